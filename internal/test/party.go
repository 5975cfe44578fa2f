package test

import (
	"crypto/rand"

	"github.com/taurusgroup/threshold-keys/pkg/keyshare"
	"github.com/taurusgroup/threshold-keys/pkg/math/curve"
	"github.com/taurusgroup/threshold-keys/pkg/party"
)

// PartyIDs returns the IDs 1, …, n.
func PartyIDs(n int) party.IDSlice {
	ids := make(party.IDSlice, n)
	for i := range ids {
		ids[i] = party.ID(i + 1)
	}
	return ids
}

// Shares deals a random key to n parties with the given threshold.
func Shares(group curve.Curve, n, threshold int) map[party.ID]*keyshare.Config {
	configs, err := keyshare.Deal(group, rand.Reader, PartyIDs(n), threshold, nil)
	if err != nil {
		panic(err)
	}
	return configs
}
