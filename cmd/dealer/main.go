// Command dealer splits a fresh secp256k1 key into shares, one file per party.
//
// It stands in for a distributed key generation when setting up test groups.
package main

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/taurusgroup/threshold-keys/internal/cli"
	"github.com/taurusgroup/threshold-keys/pkg/bip32"
	"github.com/taurusgroup/threshold-keys/pkg/keyshare"
	"github.com/taurusgroup/threshold-keys/pkg/math/curve"
	"github.com/taurusgroup/threshold-keys/pkg/party"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "dealer:", err)
		os.Exit(1)
	}
}

// shareFile returns the path of the share of party id.
func shareFile(prefix string, id party.ID) string {
	return fmt.Sprintf("%s%s.share", prefix, id)
}

func run(args []string, stdout io.Writer) error {
	flags := cli.NewFlagSet("dealer")
	flags.Int("parties", 3, "number of parties")
	flags.Int("threshold", 1, "maximum number of corrupted parties, threshold+1 shares can sign")
	flags.String("output-prefix", "party-", "shares are written to <prefix><index>.share")
	flags.String("derivation-path", "", "optional path such as m/44/60/0, applied to the dealt key")
	v, err := cli.Load(flags, args)
	if err != nil {
		return err
	}
	log, err := cli.NewLogger(v.GetString("log-level"))
	if err != nil {
		return err
	}

	n := v.GetInt("parties")
	ids := make([]party.ID, 0, n)
	for i := 1; i <= n; i++ {
		id, err := party.FromInt(i)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	group := curve.Secp256k1{}
	configs, err := keyshare.Deal(group, rand.Reader, ids, v.GetInt("threshold"), nil)
	if err != nil {
		return err
	}

	if spec := v.GetString("derivation-path"); spec != "" {
		path, err := bip32.PathFrom(spec)
		if err != nil {
			return err
		}
		for id, c := range configs {
			if configs[id], _, err = c.Derive(nil, path); err != nil {
				return err
			}
		}
		log.WithField("path", bip32.PathString(path)).Info("derived shares")
	}

	// reserve every file first, so that nothing is written if one exists
	prefix := v.GetString("output-prefix")
	outputs := make(map[party.ID]*keyshare.Output, len(configs))
	defer func() {
		for _, o := range outputs {
			_ = o.Discard()
		}
	}()
	for _, id := range ids {
		o, err := keyshare.Reserve(shareFile(prefix, id))
		if err != nil {
			return err
		}
		outputs[id] = o
	}
	for _, id := range ids {
		if err = outputs[id].Commit(configs[id]); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"party": id, "file": outputs[id].Path()}).Info("share written")
	}

	_, err = fmt.Fprintln(stdout, cli.HexPoint(configs[ids[0]].PublicPoint()))
	return err
}
