package protocol

import (
	"fmt"

	"github.com/taurusgroup/threshold-keys/pkg/party"
)

// Error is a custom error for protocols which contains information about the party responsible.
type Error struct {
	// Culprit is 0 if the identity of the misbehaving party cannot be known
	Culprit party.ID
	// Err is the underlying error
	Err error
}

func (e Error) Error() string {
	if e.Culprit == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("party %s: %s", e.Culprit, e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}
