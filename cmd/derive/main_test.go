package main

import (
	"bytes"
	"crypto/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taurusgroup/threshold-keys/internal/cli"
	"github.com/taurusgroup/threshold-keys/pkg/keyshare"
	"github.com/taurusgroup/threshold-keys/pkg/math/curve"
	"github.com/taurusgroup/threshold-keys/pkg/party"
)

const parentKey = "03d6f3c325eb3fda7061983141278484c0dd452a6702fd537b89c09ddf2b6f3238"

func output(stdout string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		key, value, _ := strings.Cut(line, ": ")
		out[key] = value
	}
	return out
}

func TestRun_PublicKey(t *testing.T) {
	var stdout bytes.Buffer
	require.NoError(t, run([]string{"--public-key", parentKey, "--path", "m/1/2/3", "--log-level", "error"}, &stdout))
	out := output(stdout.String())
	assert.Equal(t, "bf11314c41d2a867a85515100ced6cfb000f21ac47c8a51f237a568e5ac8e374", out["offset"])
	assert.Equal(t, "03fcfab777de0da2318fd8e5d9ee5b08e7ddb755534f16b55a9bfd5d66e4ff34ef", out["chain-code"])
	assert.Equal(t, "03e891363052c09185814e92ce7a1a1946631dc53d058a01176fcf27a66b5674c2", out["public-key"])

	// resuming from the printed chain code gives the same result as the full path
	var first, resumed, full bytes.Buffer
	require.NoError(t, run([]string{"--public-key", parentKey, "--path", "1", "--log-level", "error"}, &first))
	step := output(first.String())
	require.NoError(t, run([]string{"--public-key", step["public-key"], "--chain-code", step["chain-code"], "--path", "2", "--log-level", "error"}, &resumed))
	require.NoError(t, run([]string{"--public-key", parentKey, "--path", "1/2", "--log-level", "error"}, &full))
	assert.Equal(t, output(full.String())["public-key"], output(resumed.String())["public-key"])
}

func TestRun_LocalShare(t *testing.T) {
	group := curve.Secp256k1{}
	dir := t.TempDir()
	configs, err := keyshare.Deal(group, rand.Reader, []party.ID{1, 2, 3}, 1, nil)
	require.NoError(t, err)
	in := filepath.Join(dir, "in.share")
	o, err := keyshare.Reserve(in)
	require.NoError(t, err)
	require.NoError(t, o.Commit(configs[2]))

	outPath := filepath.Join(dir, "out.share")
	var stdout bytes.Buffer
	require.NoError(t, run([]string{"--local-share", in, "--path", "m/7", "--output", outPath, "--log-level", "error"}, &stdout))

	derived, err := keyshare.Load(outPath, group)
	require.NoError(t, err)
	publicKey, err := cli.ParsePoint(group, output(stdout.String())["public-key"])
	require.NoError(t, err)
	assert.True(t, publicKey.Equal(derived.PublicPoint()))
	assert.True(t, derived.ECDSA.ActOnBase().Equal(derived.Public[2]))

	assert.Error(t, run([]string{"--local-share", in, "--path", "m/7", "--output", outPath}, &stdout), "output exists")
}

func TestRun_Invalid(t *testing.T) {
	var stdout bytes.Buffer
	assert.Error(t, run([]string{"--public-key", parentKey}, &stdout), "no path")
	assert.Error(t, run([]string{"--path", "1"}, &stdout), "no key")
	assert.Error(t, run([]string{"--public-key", "04ff", "--path", "1"}, &stdout))
	assert.Error(t, run([]string{"--public-key", parentKey, "--path", "1", "--output", "x"}, &stdout))
	assert.Error(t, run([]string{"--public-key", parentKey, "--path", "m/1h"}, &stdout))
}
