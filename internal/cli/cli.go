// Package cli holds the configuration and logging setup shared by the command line tools.
package cli

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/taurusgroup/threshold-keys/pkg/math/curve"
	"github.com/taurusgroup/threshold-keys/pkg/party"
)

// EnvPrefix is prepended to the environment variable of every flag,
// so that --local-share can also be set with THRESHOLD_KEYS_LOCAL_SHARE.
const EnvPrefix = "THRESHOLD_KEYS"

// NewFlagSet returns a flag set with the options common to every tool.
func NewFlagSet(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.String("config", "", "optional configuration file (yaml, json or toml) providing flag values")
	flags.String("log-level", "info", "one of trace, debug, info, warn, error")
	return flags
}

// Load parses args into flags, and returns a viper instance where every flag can be
// overridden by its environment variable, or by the configuration file.
//
// Precedence is: flag set explicitly, environment, configuration file, flag default.
func Load(flags *pflag.FlagSet, args []string) (*viper.Viper, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("cli.Load: %w", err)
	}
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("cli.Load: read config %s: %w", file, err)
		}
	}
	return v, nil
}

// NewLogger returns a text logger on stderr at the given level.
func NewLogger(level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("cli.NewLogger: %w", err)
	}
	log := logrus.New()
	log.Out = os.Stderr
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log, nil
}

// Required returns an error naming the first key without a value.
func Required(v *viper.Viper, keys ...string) error {
	for _, key := range keys {
		if v.GetString(key) == "" {
			return fmt.Errorf("--%s is required", key)
		}
	}
	return nil
}

// ParseIDs parses a comma separated list of party indices, such as "1,3".
// An empty string is an empty list.
func ParseIDs(s string) ([]party.ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []party.ID{}, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]party.ID, 0, len(parts))
	for _, p := range parts {
		id, err := party.FromString(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("cli.ParseIDs: %w", err)
		}
		ids = append(ids, id)
	}
	if !party.NewIDSlice(ids).Valid() {
		return nil, fmt.Errorf("cli.ParseIDs: duplicate index in %q", s)
	}
	return ids, nil
}

// ParsePoint decodes a hex encoded compressed point, with or without a 0x prefix.
func ParsePoint(group curve.Curve, s string) (curve.Point, error) {
	data, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("cli.ParsePoint: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("cli.ParsePoint: empty")
	}
	p := group.NewPoint()
	if err = p.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("cli.ParsePoint: %w", err)
	}
	return p, nil
}

// HexPoint returns the hex encoding of the compressed point p.
func HexPoint(p curve.Point) string {
	data, err := p.MarshalBinary()
	if err != nil {
		return "identity"
	}
	return hex.EncodeToString(data)
}
