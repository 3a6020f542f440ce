// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package config_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextmesh/core/config"
)

func TestDefaultConfigMatchesSpecDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Equal(t, 8, cfg.Sync.CatchupThreshold)
	assert.Equal(t, 30*time.Second, cfg.Sync.SyncTimeout)
	assert.Equal(t, 10*time.Second, cfg.Sync.KeyExchangeTimeout)
	assert.Equal(t, 60*time.Second, cfg.Sync.SnapshotChunkTimeout)
	assert.Equal(t, 30*time.Second, cfg.Net.HeartbeatInterval)
	assert.False(t, cfg.Net.P2PDisabled)
	assert.Equal(t, "badger", cfg.Datastore.Store)
}

func TestConfigFileExistsFalseForFreshRootdir(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Rootdir = t.TempDir()
	assert.False(t, cfg.ConfigFileExists())
}

func TestCreateRootDirAndConfigFileThenLoadRoundTrips(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Rootdir = filepath.Join(t.TempDir(), "node1")
	cfg.Net.P2PAddress = "/ip4/127.0.0.1/tcp/4242"
	cfg.Sync.CatchupThreshold = 42

	require.NoError(t, cfg.CreateRootDirAndConfigFile())
	assert.True(t, cfg.ConfigFileExists())

	loaded := config.DefaultConfig()
	loaded.Rootdir = cfg.Rootdir
	require.NoError(t, loaded.LoadWithRootdir(true))

	assert.Equal(t, "/ip4/127.0.0.1/tcp/4242", loaded.Net.P2PAddress)
	assert.Equal(t, 42, loaded.Sync.CatchupThreshold)
}

func TestLoadWithRootdirWithoutFileKeepsDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Rootdir = t.TempDir()
	require.NoError(t, cfg.LoadWithRootdir(false))
	assert.Equal(t, "badger", cfg.Datastore.Store)
}

func TestBindFlagOverridesDefaultOnParse(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Rootdir = t.TempDir()

	flags := pflag.NewFlagSet("start", pflag.ContinueOnError)
	flags.String("p2paddr", cfg.Net.P2PAddress, "listen address")
	require.NoError(t, cfg.BindFlag("net.p2paddress", flags.Lookup("p2paddr")))
	require.NoError(t, flags.Set("p2paddr", "/ip4/0.0.0.0/tcp/9999"))

	require.NoError(t, cfg.LoadWithRootdir(false))
	assert.Equal(t, "/ip4/0.0.0.0/tcp/9999", cfg.Net.P2PAddress)
}
