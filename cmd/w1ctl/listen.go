package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/w1ctl/internal/bus"
	"github.com/danmuck/w1ctl/internal/inventory"
)

var listenStore bool

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print kernel add/remove events as they arrive",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, done, err := openClient(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer done()

		var store *inventory.Store
		if listenStore {
			store, err = openStore()
			if err != nil {
				return err
			}
			defer store.Close()
		}

		err = followEvents(cmd.Context(), client, store, cmd.OutOrStdout())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

// followEvents blocks until ctx ends, echoing events to out (when set) and
// folding them into store (when set).
func followEvents(ctx context.Context, client *bus.Client, store *inventory.Store, out io.Writer) error {
	queue := make(chan bus.Event, 64)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	defer wg.Wait()
	defer close(stop)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			var ev bus.Event
			select {
			case <-stop:
				return
			case ev = <-queue:
			}
			if out != nil {
				fmt.Fprintf(out, "%s\t%s\t%s\n", ev.At.Format("15:04:05.000"), ev.Kind, ev.ID.String(ev.Kind))
			}
			if store == nil {
				continue
			}
			if err := store.ApplyEvent(ev.Kind, ev.ID, ev.At); err != nil {
				log.Warn().Err(err).Str("kind", ev.Kind.String()).Msg("inventory update failed")
			}
		}
	}()

	// The handler may still run once after Events returns, so the queue is
	// never closed.
	return client.Events(ctx, func(ev bus.Event) {
		select {
		case queue <- ev:
		default:
			log.Warn().Str("kind", ev.Kind.String()).Msg("event queue full; dropping event")
		}
	})
}

func init() {
	listenCmd.Flags().BoolVar(&listenStore, "store", false, "also record events in the inventory database")
}
