package keyshare

import (
	"fmt"
	"math/big"

	"github.com/taurusgroup/threshold-keys/pkg/bip32"
	"github.com/taurusgroup/threshold-keys/pkg/math/curve"
	"github.com/taurusgroup/threshold-keys/pkg/party"
)

// Derive returns a sharing of the child key at path.
//
// The chain code used is, in order of preference, chainCode, the one stored
// in the config, and bip32.DefaultChainCode().
//
// Every share is shifted by the derivation offset δ, so that the new shares
// are a sharing of x + δ: xᵢ' = xᵢ + δ and Xⱼ' = Xⱼ + δ⋅G.
// The receiver is not modified.
func (c *Config) Derive(chainCode *big.Int, path []*big.Int) (*Config, *bip32.Child, error) {
	if chainCode == nil {
		if len(c.ChainCode) != 0 {
			chainCode = new(big.Int).SetBytes(c.ChainCode)
		} else {
			chainCode = bip32.DefaultChainCode()
		}
	}

	child, err := bip32.Derive(c.PublicPoint(), chainCode, path)
	if err != nil {
		return nil, nil, fmt.Errorf("keyshare.Derive: %w", err)
	}
	nextChainCode, err := child.ChainCode.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("keyshare.Derive: %w", err)
	}

	offsetG := child.Offset.ActOnBase()
	public := make(map[party.ID]curve.Point, len(c.Public))
	for j, X := range c.Public {
		public[j] = X.Add(offsetG)
	}

	return &Config{
		Group:     c.Group,
		ID:        c.ID,
		Threshold: c.Threshold,
		ECDSA:     c.Group.NewScalar().Set(c.ECDSA).Add(child.Offset),
		Public:    public,
		ChainCode: nextChainCode,
	}, child, nil
}
