// Package keyshare holds a party's share of a threshold ECDSA key, together with
// the public shares of every other party.
package keyshare

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/taurusgroup/threshold-keys/internal/params"
	"github.com/taurusgroup/threshold-keys/internal/types"
	"github.com/taurusgroup/threshold-keys/pkg/math/curve"
	"github.com/taurusgroup/threshold-keys/pkg/math/polynomial"
	"github.com/taurusgroup/threshold-keys/pkg/party"
)

// Config represents a party's view of a shared key, after a key generation or a refresh.
//
// When unmarshalling, EmptyConfig needs to be called to set the group first.
type Config struct {
	Group curve.Curve

	// ID is the index of this party.
	ID party.ID

	// Threshold is the integer t which defines the maximum number of corruptions tolerated for this config.
	// Threshold + 1 is the minimum number of parties' shares required to reconstruct the secret.
	Threshold int

	// ECDSA is this party's share xᵢ of the secret ECDSA x.
	ECDSA curve.Scalar

	// Public maps every party to its public share Xⱼ = xⱼ⋅G.
	Public map[party.ID]curve.Point

	// ChainCode is the compressed chain point to use for further derivation.
	// When empty, the default chain code is used.
	ChainCode []byte
}

// PublicPoint returns the group's public ECC point X = ∑ⱼ λⱼ⋅Xⱼ.
func (c *Config) PublicPoint() curve.Point {
	sum := c.Group.NewPoint()
	partyIDs := c.PartyIDs()
	l := polynomial.Lagrange(c.Group, partyIDs)
	for _, j := range partyIDs {
		sum = sum.Add(l[j].Act(c.Public[j]))
	}
	return sum
}

// PartyIDs returns a sorted slice of party IDs.
func (c *Config) PartyIDs() party.IDSlice {
	ids := make([]party.ID, 0, len(c.Public))
	for j := range c.Public {
		ids = append(ids, j)
	}
	return party.NewIDSlice(ids)
}

// N returns the number of parties holding a share.
func (c *Config) N() int {
	return len(c.Public)
}

// Validate ensures that the data is consistent. In particular it verifies:
//   - 0 ⩽ threshold ⩽ n-1
//   - all public shares are present and not the identity
//   - the secret corresponds to the public share of this party.
func (c *Config) Validate() error {
	if c == nil || c.Group == nil {
		return errors.New("config: nil or without group")
	}
	if !ValidThreshold(c.Threshold, len(c.Public)) {
		return fmt.Errorf("config: threshold %d is invalid for %d parties", c.Threshold, len(c.Public))
	}

	if c.ECDSA == nil || c.ECDSA.IsZero() {
		return errors.New("config: ECDSA secret key share is zero")
	}

	for j, publicJ := range c.Public {
		if err := j.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if publicJ == nil || publicJ.IsIdentity() {
			return fmt.Errorf("config: party %s: ECDSA public key share is identity", j)
		}
	}

	public, ok := c.Public[c.ID]
	if !ok {
		return errors.New("config: no public data for secret")
	}
	if !c.ECDSA.ActOnBase().Equal(public) {
		return errors.New("config: ECDSA secret key share does not correspond to public share")
	}

	if len(c.ChainCode) != 0 {
		if len(c.ChainCode) != params.BytesPoint {
			return fmt.Errorf("config: chain code has %d bytes", len(c.ChainCode))
		}
		if err := c.Group.NewPoint().UnmarshalBinary(c.ChainCode); err != nil {
			return fmt.Errorf("config: chain code: %w", err)
		}
	}
	return nil
}

// Copy returns a deep copy of c.
func (c *Config) Copy() *Config {
	public := make(map[party.ID]curve.Point, len(c.Public))
	for j, X := range c.Public {
		public[j] = c.Group.NewPoint().Set(X)
	}
	var chainCode []byte
	if len(c.ChainCode) != 0 {
		chainCode = append([]byte(nil), c.ChainCode...)
	}
	return &Config{
		Group:     c.Group,
		ID:        c.ID,
		Threshold: c.Threshold,
		ECDSA:     c.Group.NewScalar().Set(c.ECDSA),
		Public:    public,
		ChainCode: chainCode,
	}
}

// WriteTo implements io.WriterTo interface.
//
// Only public data is written.
func (c *Config) WriteTo(w io.Writer) (total int64, err error) {
	if c == nil {
		return 0, io.ErrUnexpectedEOF
	}
	var n int64

	// write t
	n, err = types.ThresholdWrapper(c.Threshold).WriteTo(w)
	total += n
	if err != nil {
		return
	}

	// write partyIDs
	partyIDs := c.PartyIDs()
	n, err = partyIDs.WriteTo(w)
	total += n
	if err != nil {
		return
	}

	// write all Xⱼ
	for _, j := range partyIDs {
		var data []byte
		data, err = c.Public[j].MarshalBinary()
		if err != nil {
			return
		}
		var n0 int
		n0, err = w.Write(data)
		total += int64(n0)
		if err != nil {
			return
		}
	}
	return
}

// Domain implements hash.WriterToWithDomain.
func (*Config) Domain() string {
	return "Key Share Config"
}

// ValidThreshold returns true if 0 ⩽ t ⩽ n-1.
func ValidThreshold(t, n int) bool {
	if t < 0 || t > math.MaxUint32 {
		return false
	}
	if n <= 0 || t > n-1 {
		return false
	}
	return true
}
