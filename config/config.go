// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package config holds the node's own operational settings (storage
// path, listen address, sync timing) loaded through viper/cobra the way
// defradb's cli package binds its start command's flags, plus the
// external configuration-client boundary the core consumes (§6.2).
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/syncproto"
)

// DefaultRootdir is where a node's config file and on-disk store live
// absent an explicit --rootdir, mirroring defradb's ~/.defradb default.
const DefaultRootdir = ".contextmesh"

// NetConfig controls the libp2p transport and gossip surface.
type NetConfig struct {
	P2PAddress  string `mapstructure:"p2paddress"`
	P2PDisabled bool   `mapstructure:"p2pdisabled"`
	Peers       string `mapstructure:"peers"`
	// HeartbeatInterval is how often the broadcast channel emits a
	// HashHeartbeat for each joined context (§4.3).
	HeartbeatInterval time.Duration `mapstructure:"heartbeatinterval"`
}

// SyncConfig holds C8/C9's timing and size settings. The field defaults
// mirror the syncproto package's own constants. The node reads only
// SyncTimeout (one bound on a whole sync session), SweepInterval and
// RNGSeed; CatchupThreshold, KeyExchangeTimeout, SnapshotChunkTimeout
// and SnapshotBufferSize are loaded and saved but not applied, so the
// sync code always runs with syncproto.DefaultCatchupThreshold and
// syncproto.SnapshotBufferSize and has no separate key-exchange or
// snapshot-chunk timeout.
type SyncConfig struct {
	CatchupThreshold     int           `mapstructure:"catchupthreshold"`
	SyncTimeout          time.Duration `mapstructure:"synctimeout"`
	KeyExchangeTimeout   time.Duration `mapstructure:"keyexchangetimeout"`
	SnapshotChunkTimeout time.Duration `mapstructure:"snapshotchunktimeout"`
	SnapshotBufferSize   int           `mapstructure:"snapshotbuffersize"`
	// SweepInterval is how often the scheduler's periodic background
	// pass (§4.7, one of the four trigger sources) runs.
	SweepInterval time.Duration `mapstructure:"sweepinterval"`
	// RNGSeed fixes the scheduler's peer-choice tie-break. Zero means
	// "derive one from the current time at startup", non-zero pins it
	// for reproducible simulation runs.
	RNGSeed int64 `mapstructure:"rngseed"`
}

// DatastoreConfig selects and configures the key-value engine (§6.1).
type DatastoreConfig struct {
	// Store is "badger" or "memory".
	Store string `mapstructure:"store"`
	Path  string `mapstructure:"path"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Config is the full node configuration tree, bound to viper the way
// defradb's config.Config binds cobra flags onto a mapstructure tree.
type Config struct {
	Rootdir   string          `mapstructure:"rootdir"`
	Net       NetConfig       `mapstructure:"net"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Datastore DatastoreConfig `mapstructure:"datastore"`
	Logging   LoggingConfig   `mapstructure:"logging"`

	v *viper.Viper
}

// DefaultConfig returns a Config with every field set to the values a
// freshly initialized node should run with.
func DefaultConfig() *Config {
	return &Config{
		Rootdir: DefaultRootdir,
		Net: NetConfig{
			P2PAddress:        "/ip4/0.0.0.0/tcp/9171",
			P2PDisabled:       false,
			Peers:             "",
			HeartbeatInterval: 30 * time.Second,
		},
		Sync: SyncConfig{
			CatchupThreshold:     syncproto.DefaultCatchupThreshold,
			SyncTimeout:          30 * time.Second,
			KeyExchangeTimeout:   10 * time.Second,
			SnapshotChunkTimeout: 60 * time.Second,
			SnapshotBufferSize:   syncproto.SnapshotBufferSize,
			SweepInterval:        time.Minute,
			RNGSeed:              0,
		},
		Datastore: DatastoreConfig{
			Store: "badger",
			Path:  filepath.Join(DefaultRootdir, "data"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		v: viper.New(),
	}
}

func (cfg *Config) configFilePath() string {
	return filepath.Join(cfg.Rootdir, "config.yaml")
}

// ConfigFileExists reports whether this node's rootdir already has a
// config file, the same check defradb's start command makes before
// deciding whether to load or create one.
func (cfg *Config) ConfigFileExists() bool {
	_, err := os.Stat(cfg.configFilePath())
	return err == nil
}

// FolderExists reports whether path already exists as a directory.
func FolderExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// LoadWithRootdir reads configuration from cfg.Rootdir into cfg. If
// fromFile is false, the config file step is skipped (environment
// variables and flags already bound via BindFlag still apply) — used
// for a node that hasn't written its config file yet.
func (cfg *Config) LoadWithRootdir(fromFile bool) error {
	cfg.v.SetConfigName("config")
	cfg.v.SetConfigType("yaml")
	cfg.v.AddConfigPath(cfg.Rootdir)
	cfg.v.SetEnvPrefix("CONTEXTMESH")
	cfg.v.AutomaticEnv()

	if fromFile {
		if err := cfg.v.ReadInConfig(); err != nil {
			return errors.Wrap("failed to read config file", err)
		}
	}
	if err := cfg.v.Unmarshal(cfg); err != nil {
		return errors.Wrap("failed to unmarshal config", err)
	}
	return nil
}

// WriteConfigFile persists the current in-memory config to cfg.Rootdir.
func (cfg *Config) WriteConfigFile() error {
	cfg.v.Set("rootdir", cfg.Rootdir)
	cfg.v.Set("net", cfg.Net)
	cfg.v.Set("sync", cfg.Sync)
	cfg.v.Set("datastore", cfg.Datastore)
	cfg.v.Set("logging", cfg.Logging)
	return errors.Wrap("failed to write config file", cfg.v.WriteConfigAs(cfg.configFilePath()))
}

// CreateRootDirAndConfigFile creates a fresh rootdir and writes the
// current config into it, for first-run nodes.
func (cfg *Config) CreateRootDirAndConfigFile() error {
	if err := os.MkdirAll(cfg.Rootdir, 0o755); err != nil {
		return errors.Wrap("failed to create rootdir", err)
	}
	return cfg.WriteConfigFile()
}

// BindFlag binds a cobra flag into the config tree under key, mirroring
// defradb's cfg.BindFlag(key, cmd.Flags().Lookup(name)) call-site pattern
// in every flag registered by MakeStartCommand.
func (cfg *Config) BindFlag(key string, flag *pflag.Flag) error {
	return errors.Wrap("failed to bind flag "+key, cfg.v.BindPFlag(key, flag))
}
