// Command derive computes a non-hardened child of a group key.
//
// Given only a public key, it prints the child public key, the offset and the chain code.
// Given a local share, it can also write the share of the child key.
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/taurusgroup/threshold-keys/internal/cli"
	"github.com/taurusgroup/threshold-keys/pkg/bip32"
	"github.com/taurusgroup/threshold-keys/pkg/keyshare"
	"github.com/taurusgroup/threshold-keys/pkg/math/curve"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "derive:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	flags := cli.NewFlagSet("derive")
	flags.String("local-share", "", "share file of the parent key")
	flags.String("public-key", "", "hex encoded compressed parent key, when no share is given")
	flags.String("path", "", "derivation path, such as m/44/60/0/0/0")
	flags.String("chain-code", "", "hex encoded compressed chain code point, defaults to the one in the share or the generator")
	flags.String("output", "", "write the derived share to this file, which must not exist")
	v, err := cli.Load(flags, args)
	if err != nil {
		return err
	}
	if err = cli.Required(v, "path"); err != nil {
		return err
	}
	log, err := cli.NewLogger(v.GetString("log-level"))
	if err != nil {
		return err
	}
	group := curve.Secp256k1{}

	path, err := bip32.PathFrom(v.GetString("path"))
	if err != nil {
		return err
	}
	var chainCode *big.Int
	if s := v.GetString("chain-code"); s != "" {
		point, err := cli.ParsePoint(group, s)
		if err != nil {
			return fmt.Errorf("chain code: %w", err)
		}
		if chainCode, err = bip32.ChainCodeFromPoint(point); err != nil {
			return err
		}
	}

	var child *bip32.Child
	switch {
	case v.GetString("local-share") != "":
		share, err := keyshare.Load(v.GetString("local-share"), group)
		if err != nil {
			return err
		}
		output := v.GetString("output")
		var out *keyshare.Output
		if output != "" {
			if out, err = keyshare.Reserve(output); err != nil {
				return err
			}
			defer func() { _ = out.Discard() }()
		}
		var derived *keyshare.Config
		if derived, child, err = share.Derive(chainCode, path); err != nil {
			return err
		}
		if out != nil {
			if err = out.Commit(derived); err != nil {
				return err
			}
			log.WithField("file", out.Path()).Info("derived share written")
		}
	case v.GetString("public-key") != "":
		if v.GetString("output") != "" {
			return errors.New("--output needs --local-share")
		}
		parent, err := cli.ParsePoint(group, v.GetString("public-key"))
		if err != nil {
			return fmt.Errorf("public key: %w", err)
		}
		if chainCode == nil {
			chainCode = bip32.DefaultChainCode()
		}
		if child, err = bip32.Derive(parent, chainCode, path); err != nil {
			return err
		}
	default:
		return errors.New("one of --local-share or --public-key is required")
	}

	offset, err := child.Offset.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "public-key: %s\noffset: %s\nchain-code: %s\n",
		cli.HexPoint(child.PublicKey), hex.EncodeToString(offset), cli.HexPoint(child.ChainCode))
	return err
}
