package refresh

import (
	"github.com/taurusgroup/threshold-keys/pkg/keyshare"
	"github.com/taurusgroup/threshold-keys/pkg/party"
)

// Pending holds the secret material a party keeps between Distribute and Combine.
type Pending interface {
	// Zeroize wipes the secret material.
	Zeroize()
}

// Engine implements the cryptography of a refresh round.
//
// The Coordinator only deals with collecting and ordering contributions,
// and delegates everything else to the Engine.
type Engine interface {
	// Distribute produces the payload of the local contribution, and the state kept until Combine.
	Distribute(ssid []byte, share *keyshare.Config, removed party.IDSlice) ([]byte, Pending, error)
	// Combine verifies the contributions, sorted by sender, and returns the new share.
	// The share passed in must not be modified.
	Combine(ssid []byte, share *keyshare.Config, contributions []*Contribution, pending Pending, removed party.IDSlice) (*keyshare.Config, error)
}
