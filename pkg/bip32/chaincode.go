package bip32

import (
	"fmt"
	"math/big"

	"github.com/taurusgroup/threshold-keys/internal/params"
	"github.com/taurusgroup/threshold-keys/pkg/math/curve"
)

// DefaultChainCode returns the compressed encoding of the secp256k1 generator as an integer.
func DefaultChainCode() *big.Int {
	c, err := ChainCodeFromPoint(curve.Secp256k1{}.NewBasePoint())
	if err != nil {
		panic(err)
	}
	return c
}

// ChainCodeFromPoint returns the chain code seed corresponding to p.
func ChainCodeFromPoint(p curve.Point) (*big.Int, error) {
	data, err := p.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	return new(big.Int).SetBytes(data), nil
}

// ChainCodeSeed returns the chain point of c as a seed, so that derivation
// can be resumed later with Derive.
func (c *Child) ChainCodeSeed() (*big.Int, error) {
	return ChainCodeFromPoint(c.ChainCode)
}

func decodeChainCode(group curve.Curve, chainCode *big.Int) (curve.Point, error) {
	if chainCode == nil || chainCode.Sign() <= 0 {
		return nil, fmt.Errorf("%w: chain code must be positive", ErrInvalidEncoding)
	}
	data := chainCode.Bytes()
	if len(data) != params.BytesPoint {
		return nil, fmt.Errorf("%w: chain code has %d bytes", ErrInvalidEncoding, len(data))
	}
	p := group.NewPoint()
	if err := p.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	return p, nil
}
