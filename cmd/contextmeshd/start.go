// Copyright 2022 Democratized Data Foundation
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	ma "github.com/multiformats/go-multiaddr"
	libpeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/cobra"

	"github.com/contextmesh/core/config"
	"github.com/contextmesh/core/errors"
	"github.com/contextmesh/core/logging"
)

var log = logging.MustNewLogger("contextmeshd")

// makeStartCommand mirrors defradb's own start command: a
// PersistentPreRunE that loads or creates the root config, flags bound
// through cfg.BindFlag, and a RunE that brings the node up then blocks
// in wait until an interrupt or context cancellation.
func makeStartCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a contextmesh node",
		Long:  "Start a new instance of a contextmesh context-synchronization node.",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.ConfigFileExists() {
				if err := cfg.LoadWithRootdir(true); err != nil {
					return errors.Wrap("failed to load config", err)
				}
				return nil
			}
			if err := cfg.LoadWithRootdir(false); err != nil {
				return errors.Wrap("failed to load config", err)
			}
			if config.FolderExists(cfg.Rootdir) {
				return cfg.WriteConfigFile()
			}
			return cfg.CreateRootDirAndConfigFile()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := start(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return wait(cmd.Context(), n)
		},
	}

	cmd.Flags().String("peers", cfg.Net.Peers, "List of peers to connect to")
	if err := cfg.BindFlag("net.peers", cmd.Flags().Lookup("peers")); err != nil {
		log.FatalE(context.Background(), "could not bind net.peers", err)
	}

	cmd.Flags().String("p2paddr", cfg.Net.P2PAddress, "Listener address for the p2p network (formatted as a libp2p MultiAddr)")
	if err := cfg.BindFlag("net.p2paddress", cmd.Flags().Lookup("p2paddr")); err != nil {
		log.FatalE(context.Background(), "could not bind net.p2paddress", err)
	}

	cmd.Flags().Bool("no-p2p", cfg.Net.P2PDisabled, "Disable the peer-to-peer synchronization system")
	if err := cfg.BindFlag("net.p2pdisabled", cmd.Flags().Lookup("no-p2p")); err != nil {
		log.FatalE(context.Background(), "could not bind net.p2pdisabled", err)
	}

	cmd.Flags().String("store", cfg.Datastore.Store, "Specify the datastore to use (supported: badger, memory)")
	if err := cfg.BindFlag("datastore.store", cmd.Flags().Lookup("store")); err != nil {
		log.FatalE(context.Background(), "could not bind datastore.store", err)
	}

	cmd.Flags().String("datastorepath", cfg.Datastore.Path, "Path to the on-disk datastore")
	if err := cfg.BindFlag("datastore.path", cmd.Flags().Lookup("datastorepath")); err != nil {
		log.FatalE(context.Background(), "could not bind datastore.path", err)
	}

	return cmd
}

// start brings up every composition-root collaborator and dials the
// configured bootstrap peers; it does not join any context itself, and
// nothing else in this binary calls node.Join.
func start(ctx context.Context, cfg *config.Config) (*node, error) {
	log.Info(ctx, "starting contextmesh node")

	ctx, cancel := context.WithCancel(ctx)
	configClient := newStaticConfigClient()

	n, err := newNode(ctx, cfg, configClient, log)
	if err != nil {
		cancel()
		return nil, err
	}
	n.cancel = cancel

	if n.host != nil {
		log.Info(ctx, "p2p host started",
			logging.NewKV("PeerID", n.host.ID().String()), logging.NewKV("Address", cfg.Net.P2PAddress))

		if cfg.Net.Peers != "" {
			addrs, err := parseBootstrapPeers(strings.Split(cfg.Net.Peers, ","))
			if err != nil {
				n.Close()
				return nil, errors.Wrap(fmt.Sprintf("failed to parse bootstrap peers %v", cfg.Net.Peers), err)
			}
			n.dialBootstrapPeers(ctx, addrs)
		}

		go n.sweepLoop(ctx)
	} else {
		log.Info(ctx, "p2p disabled, running in local-only mode")
	}

	return n, nil
}

// parseBootstrapPeers resolves a list of libp2p multiaddr strings
// (each carrying a /p2p/<id> suffix) into dialable AddrInfo values.
func parseBootstrapPeers(addrs []string) ([]libpeer.AddrInfo, error) {
	infos := make([]libpeer.AddrInfo, 0, len(addrs))
	for _, raw := range addrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		maddr, err := ma.NewMultiaddr(raw)
		if err != nil {
			return nil, errors.Wrap(fmt.Sprintf("invalid peer multiaddr %q", raw), err)
		}
		info, err := libpeer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			return nil, errors.Wrap(fmt.Sprintf("invalid peer multiaddr %q", raw), err)
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

// wait blocks until an interrupt signal or context cancellation closes
// the node.
func wait(ctx context.Context, n *node) error {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt)

	select {
	case <-ctx.Done():
		log.Info(ctx, "received context cancellation; closing node")
		if err := n.Close(); err != nil {
			log.ErrorE(ctx, "node did not close cleanly", err)
		}
		return ctx.Err()
	case <-signalCh:
		log.Info(ctx, "received interrupt; closing node")
		if err := n.Close(); err != nil {
			log.ErrorE(ctx, "node did not close cleanly", err)
		}
		return nil
	}
}
