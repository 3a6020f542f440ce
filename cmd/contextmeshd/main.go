// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// contextmeshd runs a single context-synchronization node: the CRDT/WASM
// runtime, the secure gossip and sync protocols, and the scheduler that
// drives convergence across peers.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/contextmesh/core/config"
)

func main() {
	cfg := config.DefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "contextmeshd",
		Short: "contextmesh context-synchronization node",
	}
	rootCmd.PersistentFlags().StringVar(&cfg.Rootdir, "rootdir", cfg.Rootdir, "Directory for node config and data")
	rootCmd.AddCommand(makeStartCommand(cfg))

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
