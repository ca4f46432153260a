// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package config

import (
	"log"

	"maystream/marketval"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Credentials are usually provided through the environment instead of
// the configuration file, so they do not end up on disk in plain text.
type envOverrides struct {
	AlpacaApiKey    string `envconfig:"ALPACA_API_KEY"`
	AlpacaApiSecret string `envconfig:"ALPACA_API_SECRET"`
	AlpacaPaper     *bool  `envconfig:"ALPACA_PAPER"`
	YahooApiKey     string `envconfig:"YAHOO_API_KEY"`
	DefaultProvider string `envconfig:"DEFAULT_PROVIDER"`
}

func (a *AppConfig) applyEnvOverrides() {
	// A .env file is optional, missing files are not an error.
	_ = godotenv.Load()

	var env envOverrides
	if err := envconfig.Process(AppName, &env); err != nil {
		log.Printf("ignoring invalid environment overrides: %v", err)
		return
	}

	if c, exists := a.ProviderConfig["alpaca"]; exists {
		if env.AlpacaApiKey != "" {
			c.ApiKey = env.AlpacaApiKey
		}
		if env.AlpacaApiSecret != "" {
			c.ApiSecret = env.AlpacaApiSecret
		}
		if env.AlpacaPaper != nil {
			c.Paper = *env.AlpacaPaper
		}
		a.ProviderConfig["alpaca"] = c
	}
	if c, exists := a.ProviderConfig["yahoo"]; exists && env.YahooApiKey != "" {
		c.ApiKey = env.YahooApiKey
		a.ProviderConfig["yahoo"] = c
	}
	if env.DefaultProvider != "" {
		a.DefaultProvider = marketval.ProviderId(env.DefaultProvider)
	}
}
