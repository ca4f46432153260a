// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

const AppName = "maystream"
const configFileName = "globalconfig.yaml"
const configFileVersion = 1

// Overrides the platform config directory, mainly for containerized runs.
const configDirEnv = "MAYSTREAM_CONFIG_DIR"

type GlobalConfig struct {
	loaded         bool
	version        VersionConfig
	appConfig      AppConfig
	appConfigMutex sync.Mutex
}

type VersionConfig struct {
	FileVersion int
}

func NewGlobalConfig() Config {
	return &GlobalConfig{
		version: VersionConfig{
			FileVersion: configFileVersion,
		},
		appConfig: NewAppConfig(),
	}
}

func (g *GlobalConfig) GetAppName() string {
	return AppName
}

// Locks access to the configuration and returns a copy which can be modified.
// Unlock needs to be called afterwards, if no error was returned.
func (g *GlobalConfig) Lock() (*AppConfig, error) {
	g.appConfigMutex.Lock()
	if err := g.ensureLoaded(); err != nil {
		g.appConfigMutex.Unlock()
		return nil, err
	}
	appConfigCopy := g.appConfig.deepCopy()
	return &appConfigCopy, nil
}

// Update the configuration and unlock access.
// If the configuration was changed, the configuration will be written before unlocking.
func (g *GlobalConfig) Unlock(c *AppConfig) error {
	var err error
	if !cmp.Equal(g.appConfig, *c) {
		g.appConfig = *c
		err = g.write()
	}
	g.appConfigMutex.Unlock()
	return err
}

func (g *GlobalConfig) Copy() (AppConfig, error) {
	g.appConfigMutex.Lock()
	defer g.appConfigMutex.Unlock()
	if err := g.ensureLoaded(); err != nil {
		return AppConfig{}, err
	}
	return g.appConfig.deepCopy(), nil
}

func (g *GlobalConfig) getAppConfigDir() string {
	if dir := os.Getenv(configDirEnv); dir != "" {
		return dir
	}
	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		// Running without any config location is not supported.
		log.Fatalf("unable to determine configuration path: %v", err)
	}
	return filepath.Join(userConfigDir, g.GetAppName())
}

func (g *GlobalConfig) ensureLoaded() error {
	if g.loaded {
		return nil
	}
	fileName := filepath.Join(g.getAppConfigDir(), configFileName)
	file, err := os.ReadFile(fileName)
	if os.IsNotExist(err) {
		// A missing configuration file is fine, defaults plus environment
		// overrides are enough to run.
		log.Printf("Configuration file %q does not yet exist, using defaults.", fileName)
		g.appConfig.applyEnvOverrides()
		g.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read configuration file: %w", err)
	}
	if err = yaml.Unmarshal(file, &g.version); err != nil {
		return fmt.Errorf("failed to parse configuration version: %w", err)
	}
	// Avoid removing new unknown settings if an old release is started with a newer config file.
	if g.version.FileVersion > configFileVersion {
		log.Fatalf(
			"Invalid configuration file version %d instead of %d, probably from a newer release.",
			g.version.FileVersion,
			configFileVersion)
	}
	if err = yaml.Unmarshal(file, &g.appConfig); err != nil {
		return fmt.Errorf("failed to parse app configuration: %w", err)
	}
	g.appConfig.Sanitize()
	g.appConfig.applyEnvOverrides()
	g.loaded = true
	return nil
}

func (g *GlobalConfig) write() error {
	appConfigDir := g.getAppConfigDir()
	if err := os.MkdirAll(appConfigDir, 0700); err != nil {
		return fmt.Errorf("failed to create configuration directory: %w", err)
	}
	g.appConfig.Sanitize()
	g.appConfig.RemoveDefaults()
	fileVersion, err := yaml.Marshal(&g.version)
	if err != nil {
		return fmt.Errorf("error generating configuration version: %w", err)
	}
	fileAppConfig, err := yaml.Marshal(&g.appConfig)
	if err != nil {
		return fmt.Errorf("error generating app configuration: %w", err)
	}
	g.appConfig.RestoreDefaults()

	file := append(fileVersion, fileAppConfig...)
	fileName := filepath.Join(appConfigDir, configFileName)
	tmpFileName := fileName + ".tmp"
	// Writing may fail, so we write to a temporary file and replace afterwards.
	if err = os.WriteFile(tmpFileName, file, 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	if err = os.Rename(tmpFileName, fileName); err != nil {
		return fmt.Errorf("failed to replace configuration file: %w", err)
	}
	return nil
}
