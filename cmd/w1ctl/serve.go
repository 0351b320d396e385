package main

import (
	"context"
	"errors"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/w1ctl/internal/auth"
	"github.com/danmuck/w1ctl/internal/inventory"
	"github.com/danmuck/w1ctl/internal/server"
)

var serveOffline bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the device inventory over HTTP",
	Long: `serve opens the inventory database, scans every bus master once, then
keeps the inventory current from kernel events while answering HTTP
requests. With --offline no netlink socket is opened and only the stored
inventory is served.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var live server.Bus
		if !serveOffline {
			client, done, err := openClient(ctx, true)
			if err != nil {
				return err
			}
			defer done()
			live = client

			initialScan(ctx, client, store)
			followed := make(chan struct{})
			go func() {
				defer close(followed)
				if err := followEvents(ctx, client, store, nil); err != nil && !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Msg("event stream stopped")
				}
			}()
			defer func() {
				cancel()
				<-followed
			}()
		}

		host, _ := os.Hostname()
		srv := server.New(host, cfg.HTTP.Addr, cfg.HTTP.CorsOrigins, store, live)
		if cfg.HTTP.Token != "" {
			srv.RequireToken(auth.StaticToken{Token: cfg.HTTP.Token})
		}
		srv.RegisterRoutes()
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveOffline, "offline", false, "serve the stored inventory without opening a netlink socket")
}

// initialScan seeds store from src. A failure is logged and serving continues.
func initialScan(ctx context.Context, src inventory.Source, store *inventory.Store) inventory.ScanResult {
	res, err := inventory.Scan(ctx, src, store)
	if err != nil {
		log.Warn().Err(err).Msg("initial scan failed")
		return res
	}
	log.Info().Int("masters", res.Masters).Int("devices", res.Devices).Msg("initial scan complete")
	return res
}

// openStore opens the configured inventory, in memory when no dir is set.
func openStore() (*inventory.Store, error) {
	if cfg.Inventory.Dir == "" {
		return inventory.OpenInMemory()
	}
	return inventory.Open(cfg.Inventory.Dir)
}
