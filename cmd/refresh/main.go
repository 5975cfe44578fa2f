// Command refresh takes part in a refresh round, replacing the local share by a new
// share of the same key, optionally removing parties from the group.
//
// The parties meet in a room of a relay server. The new share is written to a new file,
// and the old share is left untouched.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/taurusgroup/threshold-keys/internal/cli"
	"github.com/taurusgroup/threshold-keys/pkg/keyshare"
	"github.com/taurusgroup/threshold-keys/pkg/math/curve"
	"github.com/taurusgroup/threshold-keys/pkg/party"
	"github.com/taurusgroup/threshold-keys/pkg/pool"
	"github.com/taurusgroup/threshold-keys/pkg/refresh"
	"github.com/taurusgroup/threshold-keys/pkg/relay"
	"github.com/taurusgroup/threshold-keys/protocols/reshare"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "refresh:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	flags := cli.NewFlagSet("refresh")
	flags.String("address", "http://127.0.0.1:8080", "relay server")
	flags.String("room", "", "room shared by all the parties of the round")
	flags.Int("index", 0, "index of the local party")
	flags.Int("number-of-parties", 0, "number of parties in the current group")
	flags.String("local-share", "", "current share")
	flags.String("output", "", "file for the new share, which must not exist")
	flags.String("remove-party-indices", "", "comma separated indices of the parties to remove")
	flags.Duration("timeout", 2*time.Minute, "maximum duration of the round")
	v, err := cli.Load(flags, args)
	if err != nil {
		return err
	}
	if err = cli.Required(v, "room", "local-share", "output"); err != nil {
		return err
	}
	log, err := cli.NewLogger(v.GetString("log-level"))
	if err != nil {
		return err
	}

	id, err := party.FromInt(v.GetInt("index"))
	if err != nil {
		return fmt.Errorf("--index: %w", err)
	}
	removed, err := cli.ParseIDs(v.GetString("remove-party-indices"))
	if err != nil {
		return fmt.Errorf("--remove-party-indices: %w", err)
	}
	share, err := keyshare.Load(v.GetString("local-share"), curve.Secp256k1{})
	if err != nil {
		return err
	}
	if share.ID != id {
		return fmt.Errorf("--index is %s, but the share belongs to %s", id, share.ID)
	}

	out, err := keyshare.Reserve(v.GetString("output"))
	if err != nil {
		return err
	}
	defer func() { _ = out.Discard() }()

	pl := pool.NewPool(0)
	defer pl.TearDown()
	room := v.GetString("room")
	coordinator, err := refresh.NewCoordinator(reshare.New(pl), share, v.GetInt("number-of-parties"), removed,
		refresh.WithSessionID([]byte(room)))
	if err != nil {
		return err
	}
	coordinator.SetLogger(log)

	ctx, cancel := context.WithTimeout(ctx, v.GetDuration("timeout"))
	defer cancel()
	client, err := relay.Dial(ctx, v.GetString("address"), room, id, log)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	newShare, err := coordinator.Run(ctx, client)
	if errors.Is(err, refresh.ErrPartyRemoved) {
		log.WithField("party", id).Info("this party was removed from the group, no share written")
		return nil
	}
	if err != nil {
		return err
	}
	if err = out.Commit(newShare); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"file":       out.Path(),
		"parties":    newShare.PartyIDs().String(),
		"public-key": cli.HexPoint(newShare.PublicPoint()),
	}).Info("new share written")
	return nil
}
