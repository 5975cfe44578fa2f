package bip32

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/cronokirby/saferith"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taurusgroup/threshold-keys/pkg/math/curve"
	"github.com/taurusgroup/threshold-keys/pkg/math/sample"
	"golang.org/x/sync/errgroup"
)

const (
	parentX = "d6f3c325eb3fda7061983141278484c0dd452a6702fd537b89c09ddf2b6f3238"
	parentY = "4e12adae75c29b29cc094fd3d94aa401ea646104f0d1ae3c59f710ec92640e21"
)

func mustParent(t *testing.T) curve.Point {
	data, err := hex.DecodeString("03" + parentX)
	require.NoError(t, err)
	p := curve.Secp256k1{}.NewPoint()
	require.NoError(t, p.UnmarshalBinary(data))
	require.Equal(t, parentY, hex.EncodeToString(p.YBytes()))
	return p
}

func path(indices ...int64) []*big.Int {
	out := make([]*big.Int, len(indices))
	for i, index := range indices {
		out[i] = big.NewInt(index)
	}
	return out
}

func hexOf(t *testing.T, p curve.Point) string {
	data, err := p.MarshalBinary()
	require.NoError(t, err)
	return hex.EncodeToString(data)
}

func scalarHex(t *testing.T, s curve.Scalar) string {
	data, err := s.MarshalBinary()
	require.NoError(t, err)
	return hex.EncodeToString(data)
}

func TestDerive_KnownVector(t *testing.T) {
	parent := mustParent(t)

	child, err := Derive(parent, DefaultChainCode(), path(1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, "e891363052c09185814e92ce7a1a1946631dc53d058a01176fcf27a66b5674c2", hex.EncodeToString(child.PublicKey.XBytes()))
	assert.Equal(t, "cfbe0a84b7f7c49b5bb2a48999a761fc6c5dd6526aa79a58d4029865ef7d4a17", hex.EncodeToString(child.PublicKey.YBytes()))
	assert.Equal(t, "bf11314c41d2a867a85515100ced6cfb000f21ac47c8a51f237a568e5ac8e374", scalarHex(t, child.Offset))
	assert.Equal(t, "03fcfab777de0da2318fd8e5d9ee5b08e7ddb755534f16b55a9bfd5d66e4ff34ef", hexOf(t, child.ChainCode))
}

func TestDerive_SingleIndex(t *testing.T) {
	parent := mustParent(t)

	child, err := GetHDKey(parent, path(1))
	require.NoError(t, err)
	assert.Equal(t, "26f188285446bc928b70d8e4d7a5ba7d20591a46921bdfd65a9a140c73a2d601", hex.EncodeToString(child.PublicKey.XBytes()))
	assert.Equal(t, "9495a1dcbb1685115f31defc60f05c844eeea3e326d858d885e26b0d6be52a86", scalarHex(t, child.Offset))
	assert.Equal(t, "03fc8432157d1182d34148efef46a97521f5d308b3cfbae7af781e45841b649efa", hexOf(t, child.ChainCode))

	// zero is encoded as the empty string
	child, err = GetHDKey(parent, path(0))
	require.NoError(t, err)
	assert.Equal(t, "5d53a3a11b905b3d83efef982f84f071950e297d74c8f7d67874d8d5870b5e18", hex.EncodeToString(child.PublicKey.XBytes()))
}

func TestDerive_Properties(t *testing.T) {
	group := curve.Secp256k1{}
	_, parent := sample.ScalarPointPair(rand.Reader, group)
	chainCode, err := ChainCodeFromPoint(sample.ScalarUnit(rand.Reader, group).ActOnBase())
	require.NoError(t, err)

	p := path(7, 0, 1<<40, 3)
	child1, err := Derive(parent, chainCode, p)
	require.NoError(t, err)
	child2, err := Derive(parent, chainCode, p)
	require.NoError(t, err)

	t.Run("deterministic", func(t *testing.T) {
		assert.True(t, child1.PublicKey.Equal(child2.PublicKey))
		assert.True(t, child1.Offset.Equal(child2.Offset))
		assert.True(t, child1.ChainCode.Equal(child2.ChainCode))
	})

	t.Run("offset", func(t *testing.T) {
		expected := parent.Add(child1.Offset.ActOnBase())
		assert.True(t, expected.Equal(child1.PublicKey))
	})

	t.Run("fold", func(t *testing.T) {
		prefix, err := Derive(parent, chainCode, p[:2])
		require.NoError(t, err)
		next, err := prefix.Next(p[2])
		require.NoError(t, err)
		next, err = next.Next(p[3])
		require.NoError(t, err)
		assert.True(t, next.PublicKey.Equal(child1.PublicKey))
		assert.True(t, next.Offset.Equal(child1.Offset))
	})

	t.Run("resume", func(t *testing.T) {
		prefix, err := Derive(parent, chainCode, p[:1])
		require.NoError(t, err)
		seed, err := prefix.ChainCodeSeed()
		require.NoError(t, err)
		// restarting from a seed keys the first HMAC with the seed bytes,
		// which equals the compressed chain point used by Next.
		resumed, err := Derive(prefix.PublicKey, seed, p[1:])
		require.NoError(t, err)
		assert.True(t, resumed.PublicKey.Equal(child1.PublicKey))
	})

	t.Run("distinct", func(t *testing.T) {
		other, err := Derive(parent, chainCode, path(7, 0, 1<<40, 4))
		require.NoError(t, err)
		assert.False(t, other.PublicKey.Equal(child1.PublicKey))
	})

	t.Run("inputs untouched", func(t *testing.T) {
		before := hexOf(t, parent)
		_, err := Derive(parent, chainCode, p)
		require.NoError(t, err)
		assert.Equal(t, before, hexOf(t, parent))
	})
}

func TestDerive_Concurrent(t *testing.T) {
	parent := mustParent(t)
	expected, err := GetHDKey(parent, path(1, 2, 3))
	require.NoError(t, err)

	var g errgroup.Group
	results := make([]*Child, 16)
	for i := range results {
		i := i
		g.Go(func() error {
			var err error
			results[i], err = GetHDKey(parent, path(1, 2, 3))
			return err
		})
	}
	require.NoError(t, g.Wait())
	for _, r := range results {
		assert.True(t, r.PublicKey.Equal(expected.PublicKey))
	}
}

func TestDerive_Errors(t *testing.T) {
	parent := mustParent(t)
	group := curve.Secp256k1{}

	_, err := Derive(parent, DefaultChainCode(), nil)
	assert.ErrorIs(t, err, ErrEmptyPath)

	_, err = Derive(parent, DefaultChainCode(), []*big.Int{nil})
	assert.ErrorIs(t, err, ErrInvalidIndex)

	_, err = Derive(parent, DefaultChainCode(), path(-1))
	assert.ErrorIs(t, err, ErrInvalidIndex)

	_, err = Derive(parent, DefaultChainCode(), []*big.Int{new(big.Int).Set(maxIndex)})
	assert.ErrorIs(t, err, ErrInvalidIndex)

	largest := new(big.Int).Sub(maxIndex, big.NewInt(1))
	_, err = Derive(parent, DefaultChainCode(), []*big.Int{largest})
	assert.NoError(t, err)

	_, err = Derive(parent, big.NewInt(12345), path(1))
	assert.ErrorIs(t, err, ErrInvalidEncoding)

	_, err = Derive(parent, nil, path(1))
	assert.ErrorIs(t, err, ErrInvalidEncoding)

	// x = 5 is not the abscissa of a secp256k1 point
	bad := make([]byte, 33)
	bad[0], bad[32] = 0x02, 0x05
	_, err = Derive(parent, new(big.Int).SetBytes(bad), path(1))
	assert.ErrorIs(t, err, ErrInvalidEncoding)

	_, err = Derive(group.NewPoint(), DefaultChainCode(), path(1))
	assert.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestDefaultChainCode(t *testing.T) {
	assert.Equal(t, "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798", hex.EncodeToString(DefaultChainCode().Bytes()))
}

func TestDerive_OddSeed(t *testing.T) {
	group := curve.Secp256k1{}
	parent := mustParent(t)

	var seedPoint curve.Point
	for {
		seedPoint = sample.ScalarUnit(rand.Reader, group).ActOnBase()
		data, err := seedPoint.MarshalBinary()
		require.NoError(t, err)
		if data[0] == 0x03 {
			break
		}
	}
	odd, err := ChainCodeFromPoint(seedPoint)
	require.NoError(t, err)
	even, err := ChainCodeFromPoint(seedPoint.Negate())
	require.NoError(t, err)

	parentBytes, err := parent.MarshalBinary()
	require.NoError(t, err)
	mac := hmac.New(sha512.New, odd.Bytes())
	_, _ = mac.Write(parentBytes)
	_, _ = mac.Write(big.NewInt(7).Bytes())
	f := mac.Sum(nil)
	fR := group.NewScalar().SetNat(new(saferith.Nat).SetBytes(f[32:]))

	child, err := Derive(parent, odd, path(7))
	require.NoError(t, err)
	assert.True(t, fR.Act(seedPoint).Equal(child.ChainCode), "the 03 prefix must select the odd point")

	twin, err := Derive(parent, even, path(7))
	require.NoError(t, err)
	assert.False(t, twin.PublicKey.Equal(child.PublicKey))
	assert.False(t, twin.ChainCode.Equal(child.ChainCode))
}
