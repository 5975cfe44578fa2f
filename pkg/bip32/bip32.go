// Package bip32 implements non-hardened hierarchical derivation of public keys,
// where the chain code is carried as a curve point rather than raw bytes.
//
// Since derivation only involves public values, every party holding a share of
// the same key can derive the same child key, and the scalar offset to apply
// to their share, without interaction.
package bip32

import (
	"crypto/hmac"
	"crypto/sha512"
	"errors"
	"fmt"
	"math/big"

	"github.com/cronokirby/saferith"
	"github.com/taurusgroup/threshold-keys/internal/params"
	"github.com/taurusgroup/threshold-keys/pkg/math/curve"
)

var (
	// ErrInvalidEncoding is returned when the chain code or a derived value is not a valid point.
	ErrInvalidEncoding = errors.New("bip32: invalid encoding")
	// ErrInvalidIndex is returned for indices which are nil, negative, at least 2²⁵⁶, or hardened.
	ErrInvalidIndex = errors.New("bip32: invalid index")
	// ErrEmptyPath is returned when deriving along a path without any index.
	ErrEmptyPath = errors.New("bip32: empty path")
)

var maxIndex = new(big.Int).Lsh(big.NewInt(1), 256)

// Child is the result of a derivation.
type Child struct {
	// PublicKey is the derived public key, parent + Offset⋅G.
	PublicKey curve.Point
	// Offset is the sum of the left halves of every derivation step.
	// Adding it to each share of the parent's secret yields shares of the child's secret.
	Offset curve.Scalar
	// ChainCode is the chain point after the last step.
	ChainCode curve.Point
}

// Derive computes the child of parent along path, starting from the chain code seed.
//
// The seed is the big-endian integer of a 33 byte compressed point. Its prefix
// byte selects the y coordinate, so a 03 seed and the 02 seed with the same x
// coordinate decode to opposite points and derive different children.
func Derive(parent curve.Point, chainCode *big.Int, path []*big.Int) (*Child, error) {
	if len(path) == 0 {
		return nil, ErrEmptyPath
	}
	if parent == nil || parent.IsIdentity() {
		return nil, fmt.Errorf("%w: parent is the identity", ErrInvalidEncoding)
	}
	group := parent.Curve()

	seed, err := decodeChainCode(group, chainCode)
	if err != nil {
		return nil, err
	}

	child, err := step(parent, group.NewScalar(), chainCode.Bytes(), seed, path[0])
	if err != nil {
		return nil, err
	}
	for _, index := range path[1:] {
		if child, err = child.Next(index); err != nil {
			return nil, err
		}
	}
	return child, nil
}

// GetHDKey derives parent along path with the default chain code.
func GetHDKey(parent curve.Point, path []*big.Int) (*Child, error) {
	return Derive(parent, DefaultChainCode(), path)
}

// Next derives one more level below c.
//
// The receiver is not modified.
func (c *Child) Next(index *big.Int) (*Child, error) {
	key, err := c.ChainCode.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: chain code: %v", ErrInvalidEncoding, err)
	}
	return step(c.PublicKey, c.Offset, key, c.ChainCode, index)
}

// step performs a single derivation:
//
//	f = HMAC-SHA512(key, compress(public) ∥ index)
//	public' = public + f_L⋅G, offset' = offset + f_L, chain' = f_R⋅chain
func step(public curve.Point, offset curve.Scalar, key []byte, chain curve.Point, index *big.Int) (*Child, error) {
	if err := validateIndex(index); err != nil {
		return nil, err
	}
	group := public.Curve()

	publicBytes, err := public.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrInvalidEncoding, err)
	}

	mac := hmac.New(sha512.New, key)
	_, _ = mac.Write(publicBytes)
	_, _ = mac.Write(index.Bytes())
	f := mac.Sum(nil)

	fL := group.NewScalar().SetNat(new(saferith.Nat).SetBytes(f[:params.BytesScalar]))
	fR := group.NewScalar().SetNat(new(saferith.Nat).SetBytes(f[params.BytesScalar:]))

	child := &Child{
		PublicKey: public.Add(fL.ActOnBase()),
		Offset:    group.NewScalar().Set(offset).Add(fL),
		ChainCode: fR.Act(chain),
	}
	if child.PublicKey.IsIdentity() || child.ChainCode.IsIdentity() {
		return nil, fmt.Errorf("%w: index %v derives the identity", ErrInvalidEncoding, index)
	}
	return child, nil
}

func validateIndex(index *big.Int) error {
	if index == nil {
		return fmt.Errorf("%w: nil", ErrInvalidIndex)
	}
	if index.Sign() < 0 || index.Cmp(maxIndex) >= 0 {
		return fmt.Errorf("%w: %v out of range", ErrInvalidIndex, index)
	}
	return nil
}
