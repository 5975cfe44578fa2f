package zksch

import (
	"errors"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/taurusgroup/threshold-keys/pkg/hash"
	"github.com/taurusgroup/threshold-keys/pkg/math/curve"
	"github.com/taurusgroup/threshold-keys/pkg/math/sample"
)

// Proof is a non-interactive proof of knowledge of x such that X = x⋅G.
type Proof struct {
	// C = a⋅G
	C curve.Point
	// Z = a + e⋅x
	Z curve.Scalar
}

func challenge(hash *hash.Hash, group curve.Curve, commitment, public curve.Point) (curve.Scalar, error) {
	err := hash.WriteAny(commitment, public, group.NewBasePoint())
	if err != nil {
		return nil, err
	}
	return curve.FromHash(group, hash.Sum()), nil
}

// Prove generates a Schnorr proof for the public point X = x⋅G.
//
// The hash must already contain all the context the proof should be bound to.
// It is cloned, so the caller's state is left untouched.
func Prove(rand io.Reader, hash *hash.Hash, public curve.Point, private curve.Scalar) (*Proof, error) {
	if public.IsIdentity() || private.IsZero() {
		return nil, errors.New("zksch.Prove: trivial statement")
	}
	group := private.Curve()
	a, C := sample.ScalarPointPair(rand, group)
	defer a.Zeroize()

	e, err := challenge(hash.Clone(), group, C, public)
	if err != nil {
		return nil, err
	}
	z := e.Mul(private).Add(a)
	return &Proof{C: C, Z: z}, nil
}

// Verify checks that the proof is valid for public, using the same hash state as the prover.
func (p *Proof) Verify(hash *hash.Hash, public curve.Point) bool {
	if p == nil || p.C == nil || p.Z == nil || public == nil {
		return false
	}
	if p.C.IsIdentity() || public.IsIdentity() || p.Z.IsZero() {
		return false
	}

	group := public.Curve()
	e, err := challenge(hash.Clone(), group, p.C, public)
	if err != nil {
		return false
	}

	lhs := p.Z.ActOnBase()
	rhs := e.Act(public).Add(p.C)
	return lhs.Equal(rhs)
}

// EmptyProof returns a Proof ready to be unmarshalled.
func EmptyProof(group curve.Curve) *Proof {
	return &Proof{C: group.NewPoint(), Z: group.NewScalar()}
}

type proofSerialized struct {
	C []byte
	Z []byte
}

func (p *Proof) MarshalBinary() ([]byte, error) {
	c, err := p.C.MarshalBinary()
	if err != nil {
		return nil, err
	}
	z, err := p.Z.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(proofSerialized{C: c, Z: z})
}

func (p *Proof) UnmarshalBinary(data []byte) error {
	if p.C == nil || p.Z == nil {
		return errors.New("zksch.Proof: can't unmarshal without a group")
	}
	var serialized proofSerialized
	if err := cbor.Unmarshal(data, &serialized); err != nil {
		return err
	}
	if err := p.C.UnmarshalBinary(serialized.C); err != nil {
		return err
	}
	return p.Z.UnmarshalBinary(serialized.Z)
}
