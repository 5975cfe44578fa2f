// Package reshare implements the cryptography of a refresh round.
//
// Every remaining party i re-shares its Lagrange-weighted share wᵢ = λᵢ⋅xᵢ with a fresh
// Feldman VSS polynomial fᵢ of the same degree, so that Σ fᵢ(0) = x is preserved.
// The evaluations fᵢ(j) are encrypted to each recipient under a key agreed between
// an ephemeral point Eᵢ and the recipient's public share Xⱼ.
package reshare

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/taurusgroup/threshold-keys/pkg/hash"
	"github.com/taurusgroup/threshold-keys/pkg/keyshare"
	"github.com/taurusgroup/threshold-keys/pkg/math/curve"
	"github.com/taurusgroup/threshold-keys/pkg/math/polynomial"
	"github.com/taurusgroup/threshold-keys/pkg/math/sample"
	"github.com/taurusgroup/threshold-keys/pkg/party"
	"github.com/taurusgroup/threshold-keys/pkg/pool"
	"github.com/taurusgroup/threshold-keys/pkg/protocol"
	"github.com/taurusgroup/threshold-keys/pkg/refresh"
	zksch "github.com/taurusgroup/threshold-keys/pkg/zk/sch"
)

var _ refresh.Engine = (*Engine)(nil)

var (
	ErrNotEnoughParties = errors.New("reshare: not enough remaining parties for the threshold")
	ErrWrongPending     = errors.New("reshare: pending state was not produced by this engine")
)

// Engine implements refresh.Engine.
type Engine struct {
	pl   *pool.Pool
	rand io.Reader
}

// New returns an Engine verifying contributions in parallel on pl.
// A nil pool verifies them on the calling goroutine.
func New(pl *pool.Pool) *Engine {
	return &Engine{pl: pl, rand: rand.Reader}
}

// pending is kept by a party between Distribute and Combine.
type pending struct {
	// commitments is Fᵢ, nil for a removed party.
	commitments *polynomial.Exponent
	// share is fᵢ(i).
	share curve.Scalar
}

func (p *pending) Zeroize() {
	if p.share != nil {
		p.share.Zeroize()
	}
}

// remaining returns Q = P \ R, and checks it can still reconstruct the key.
func remaining(share *keyshare.Config, removed party.IDSlice) (party.IDSlice, error) {
	q := share.PartyIDs().Remove(removed...)
	if len(q) < share.Threshold+1 {
		return nil, fmt.Errorf("%w: %d parties left, threshold %d", ErrNotEnoughParties, len(q), share.Threshold)
	}
	return q, nil
}

// proofHash returns the hash a party's proof of knowledge of its ephemeral secret is bound to.
func proofHash(ssid []byte, from party.ID, commitments *polynomial.Exponent) *hash.Hash {
	return hash.New(hash.BytesWithDomain{TheDomain: "SSID", Bytes: ssid}).Fork(from, commitments)
}

// Distribute implements refresh.Engine.
//
// A removed party sends an empty payload.
func (e *Engine) Distribute(ssid []byte, share *keyshare.Config, removed party.IDSlice) ([]byte, refresh.Pending, error) {
	q, err := remaining(share, removed)
	if err != nil {
		return nil, nil, fmt.Errorf("reshare.Distribute: %w", err)
	}
	self := share.ID
	if !q.Contains(self) {
		return []byte{}, &pending{}, nil
	}
	group := share.Group

	// wᵢ = λᵢ⋅xᵢ
	w := polynomial.LagrangeSingle(group, q, self).Mul(share.ECDSA)
	f := polynomial.Sample(e.rand, group, share.Threshold, w)
	defer f.Zeroize()
	w.Zeroize()
	commitments := polynomial.NewPolynomialExponent(f)

	ephemeralSecret, ephemeral := sample.ScalarPointPair(e.rand, group)
	defer ephemeralSecret.Zeroize()
	proof, err := zksch.Prove(e.rand, proofHash(ssid, self, commitments), ephemeral, ephemeralSecret)
	if err != nil {
		return nil, nil, fmt.Errorf("reshare.Distribute: %w", err)
	}

	payload := &Payload{
		Commitments: commitments,
		Ephemeral:   ephemeral,
		Proof:       proof,
		Shares:      make(map[party.ID][]byte, len(q)-1),
	}
	for _, j := range q {
		if j == self {
			continue
		}
		shareJ := f.Evaluate(j.Scalar(group))
		key := ephemeralSecret.Act(share.Public[j])
		ciphertext, err := seal(key, ssid, self, j, shareJ)
		shareJ.Zeroize()
		if err != nil {
			return nil, nil, fmt.Errorf("reshare.Distribute: encrypt for %s: %w", j, err)
		}
		payload.Shares[j] = ciphertext
	}

	data, err := payload.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("reshare.Distribute: %w", err)
	}
	return data, &pending{
		commitments: commitments,
		share:       f.Evaluate(self.Scalar(group)),
	}, nil
}

// Combine implements refresh.Engine.
//
// The payloads are verified in parallel. The new share keeps the index, threshold and
// chain code of the old one, and is held by the remaining parties only.
func (e *Engine) Combine(ssid []byte, share *keyshare.Config, contributions []*refresh.Contribution, p refresh.Pending, removed party.IDSlice) (*keyshare.Config, error) {
	local, ok := p.(*pending)
	if !ok || local.share == nil {
		return nil, fmt.Errorf("reshare.Combine: %w", ErrWrongPending)
	}
	q, err := remaining(share, removed)
	if err != nil {
		return nil, fmt.Errorf("reshare.Combine: %w", err)
	}
	group := share.Group

	// the verified fᵢ(j) and Fᵢ, at the position of their contribution
	shares := make([]curve.Scalar, len(contributions))
	commitments := make([]*polynomial.Exponent, len(contributions))
	defer func() {
		for _, s := range shares {
			if s != nil {
				s.Zeroize()
			}
		}
	}()

	err = e.pl.FirstError(len(contributions), func(idx int) error {
		c := contributions[idx]
		from := c.From
		if !q.Contains(from) {
			if len(c.Payload) != 0 {
				return protocol.Error{Culprit: from, Err: fmt.Errorf("%w: removed party sent a payload", refresh.ErrRefreshVerificationFailed)}
			}
			return nil
		}
		if from == share.ID {
			commitments[idx] = local.commitments
			shares[idx] = group.NewScalar().Set(local.share)
			return nil
		}
		s, F, err := e.verify(ssid, share, q, from, c.Payload)
		if err != nil {
			return protocol.Error{Culprit: from, Err: fmt.Errorf("%w: %w", refresh.ErrRefreshVerificationFailed, err)}
		}
		shares[idx], commitments[idx] = s, F
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reshare.Combine: %w", err)
	}

	// x'ⱼ = Σᵢ fᵢ(j), F = Σᵢ Fᵢ
	newSecret := group.NewScalar()
	verified := make([]*polynomial.Exponent, 0, len(q))
	for idx := range contributions {
		if commitments[idx] == nil {
			continue
		}
		newSecret.Add(shares[idx])
		verified = append(verified, commitments[idx])
	}
	if len(verified) != len(q) {
		newSecret.Zeroize()
		return nil, fmt.Errorf("reshare.Combine: %w: %d verified contributions for %d parties",
			refresh.ErrRefreshVerificationFailed, len(verified), len(q))
	}
	newShare, err := assemble(share, q, newSecret, verified)
	if err != nil {
		return nil, fmt.Errorf("reshare.Combine: %w", err)
	}
	return newShare, nil
}

// assemble builds the new share of the parties in q from the secret x'ⱼ and the verified
// commitments. The secret is zeroized if an error is returned.
func assemble(share *keyshare.Config, q party.IDSlice, secret curve.Scalar, verified []*polynomial.Exponent) (newShare *keyshare.Config, err error) {
	defer func() {
		if err != nil {
			secret.Zeroize()
		}
	}()
	group := share.Group

	summed, err := polynomial.Sum(verified)
	if err != nil {
		return nil, err
	}
	if !summed.Constant().Equal(share.PublicPoint()) {
		return nil, fmt.Errorf("%w: group key changed", refresh.ErrRefreshVerificationFailed)
	}

	public := make(map[party.ID]curve.Point, len(q))
	for _, k := range q {
		public[k] = summed.Evaluate(k.Scalar(group))
	}
	var chainCode []byte
	if len(share.ChainCode) != 0 {
		chainCode = append([]byte(nil), share.ChainCode...)
	}
	newShare = &keyshare.Config{
		Group:     group,
		ID:        share.ID,
		Threshold: share.Threshold,
		ECDSA:     secret,
		Public:    public,
		ChainCode: chainCode,
	}
	if err = newShare.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", refresh.ErrRefreshVerificationFailed, err)
	}
	return newShare, nil
}

// verify decodes the payload of party from, and returns the share fᵢ(j) it holds for
// the local party j, along with the commitments Fᵢ.
//
// It checks that:
//   - Fᵢ has degree t,
//   - the proof of knowledge of the ephemeral secret is valid,
//   - Fᵢ(0) = λᵢ⋅Xᵢ,
//   - fᵢ(j)⋅G = Fᵢ(j).
func (e *Engine) verify(ssid []byte, share *keyshare.Config, q party.IDSlice, from party.ID, data []byte) (curve.Scalar, *polynomial.Exponent, error) {
	group := share.Group
	payload := EmptyPayload(group)
	if err := payload.UnmarshalBinary(data); err != nil {
		return nil, nil, err
	}
	F := payload.Commitments
	if F.Degree() != share.Threshold {
		return nil, nil, fmt.Errorf("commitments have degree %d instead of %d", F.Degree(), share.Threshold)
	}
	if F.IsConstant {
		return nil, nil, errors.New("commitments have a zero constant")
	}

	if !payload.Proof.Verify(proofHash(ssid, from, F), payload.Ephemeral) {
		return nil, nil, errors.New("invalid proof for ephemeral key")
	}

	expected := polynomial.LagrangeSingle(group, q, from).Act(share.Public[from])
	if !F.Constant().Equal(expected) {
		return nil, nil, errors.New("commitment to the wrong share")
	}

	ciphertext, ok := payload.Shares[share.ID]
	if !ok {
		return nil, nil, fmt.Errorf("no share for %s", share.ID)
	}
	key := share.ECDSA.Act(payload.Ephemeral)
	s, err := open(group, key, ssid, from, share.ID, ciphertext)
	if err != nil {
		return nil, nil, err
	}
	if !s.ActOnBase().Equal(F.Evaluate(share.ID.Scalar(group))) {
		s.Zeroize()
		return nil, nil, errors.New("share does not match commitments")
	}
	return s, F, nil
}
