// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package config

import (
	"maystream/marketval"

	"github.com/barkimedes/go-deepcopy"
)

type AppConfig struct {
	DefaultProvider marketval.ProviderId `yaml:",omitempty"`
	ProviderConfig  map[marketval.ProviderId]ProviderConfig
	Replay          ReplayConfig `yaml:",omitempty"`
}

type ProviderConfig struct {
	DataUrl      string `yaml:",omitempty"`
	PaperDataUrl string `yaml:",omitempty"`
	StreamUrl    string `yaml:",omitempty"`
	ApiKey       string `yaml:",omitempty"`
	ApiSecret    string `yaml:",omitempty"`
	Paper        bool   `yaml:",omitempty"`
	// Venues reset their request budget periodically, see response headers.
	RateLimitPerSecond int `yaml:",omitempty"`
	// Some venues occasionally do not reply, so use a timeout.
	DataTimeoutSeconds       int `yaml:",omitempty"`
	MaxReconnectAttempts     int `yaml:",omitempty"`
	ReconnectIntervalSeconds int `yaml:",omitempty"`
	PollIntervalSeconds      int `yaml:",omitempty"`
}

type ReplayConfig struct {
	BatchSize int     `yaml:",omitempty"`
	Speed     float64 `yaml:",omitempty"`
}

var defaultProviderConfig = NewProviderConfigMap()

func NewAppConfig() AppConfig {
	return AppConfig{
		DefaultProvider: "alpaca",
		ProviderConfig:  NewProviderConfigMap(),
		Replay: ReplayConfig{
			BatchSize: 10,
			Speed:     0,
		},
	}
}

func NewProviderConfigMap() map[marketval.ProviderId]ProviderConfig {
	return map[marketval.ProviderId]ProviderConfig{
		"alpaca": {
			DataUrl:                  "https://data.alpaca.markets/v2",
			PaperDataUrl:             "https://data.sandbox.alpaca.markets/v2",
			StreamUrl:                "wss://stream.data.alpaca.markets/v2",
			Paper:                    true,
			DataTimeoutSeconds:       10,
			MaxReconnectAttempts:     5,
			ReconnectIntervalSeconds: 2,
		},
		"yahoo": {
			DataTimeoutSeconds:  10,
			PollIntervalSeconds: 5,
		},
	}
}

func (a *AppConfig) deepCopy() AppConfig {
	c, err := deepcopy.Anything(a)
	if err != nil {
		panic(err)
	}
	return *c.(*AppConfig)
}

func (a *AppConfig) Sanitize() {
	if a.ProviderConfig == nil {
		a.ProviderConfig = NewProviderConfigMap()
	}
	if a.Replay.BatchSize <= 0 {
		a.Replay.BatchSize = 10
	}
	if a.Replay.Speed < 0 {
		a.Replay.Speed = 0
	}
	a.RestoreDefaults()
}

// We do not want to store certain default values in the configuration file,
// in order to avoid having to patch them.
func (a *AppConfig) RemoveDefaults() {
	for key, c := range a.ProviderConfig {
		def := defaultProviderConfig[key]
		if c.DataUrl == def.DataUrl {
			c.DataUrl = ""
		}
		if c.PaperDataUrl == def.PaperDataUrl {
			c.PaperDataUrl = ""
		}
		if c.StreamUrl == def.StreamUrl {
			c.StreamUrl = ""
		}
		a.ProviderConfig[key] = c
	}
}

// Restore certain default values which are not stored in the configuration file.
func (a *AppConfig) RestoreDefaults() {
	for key, c := range a.ProviderConfig {
		def := defaultProviderConfig[key]
		if len(c.DataUrl) == 0 {
			c.DataUrl = def.DataUrl
		}
		if len(c.PaperDataUrl) == 0 {
			c.PaperDataUrl = def.PaperDataUrl
		}
		if len(c.StreamUrl) == 0 {
			c.StreamUrl = def.StreamUrl
		}
		if c.DataTimeoutSeconds == 0 {
			c.DataTimeoutSeconds = def.DataTimeoutSeconds
		}
		if c.MaxReconnectAttempts == 0 {
			c.MaxReconnectAttempts = def.MaxReconnectAttempts
		}
		if c.ReconnectIntervalSeconds == 0 {
			c.ReconnectIntervalSeconds = def.ReconnectIntervalSeconds
		}
		if c.PollIntervalSeconds == 0 {
			c.PollIntervalSeconds = def.PollIntervalSeconds
		}
		a.ProviderConfig[key] = c
	}
}
