// Command relay runs the rendezvous server the refresh tool exchanges messages through.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taurusgroup/threshold-keys/internal/cli"
	"github.com/taurusgroup/threshold-keys/pkg/relay"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "relay:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	flags := cli.NewFlagSet("relay")
	flags.String("listen", ":8080", "address to listen on")
	v, err := cli.Load(flags, args)
	if err != nil {
		return err
	}
	log, err := cli.NewLogger(v.GetString("log-level"))
	if err != nil {
		return err
	}

	server := relay.NewServer(log)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(v.GetString("listen"))
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
