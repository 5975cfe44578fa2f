package keyshare

import (
	"crypto/rand"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taurusgroup/threshold-keys/pkg/bip32"
	"github.com/taurusgroup/threshold-keys/pkg/math/curve"
	"github.com/taurusgroup/threshold-keys/pkg/math/polynomial"
	"github.com/taurusgroup/threshold-keys/pkg/math/sample"
	"github.com/taurusgroup/threshold-keys/pkg/party"
)

var group = curve.Secp256k1{}

func deal(t *testing.T, n, threshold int) (curve.Scalar, map[party.ID]*Config) {
	ids := make([]party.ID, n)
	for i := range ids {
		ids[i] = party.ID(i + 1)
	}
	secret := sample.ScalarUnit(rand.Reader, group)
	configs, err := Deal(group, rand.Reader, ids, threshold, secret)
	require.NoError(t, err)
	return secret, configs
}

// reconstruct interpolates the secret from the given subset of configs.
func reconstruct(configs map[party.ID]*Config, subset []party.ID) curve.Scalar {
	l := polynomial.Lagrange(group, subset)
	secret := group.NewScalar()
	for _, id := range subset {
		secret.Add(group.NewScalar().Set(configs[id].ECDSA).Mul(l[id]))
	}
	return secret
}

func TestDeal(t *testing.T) {
	secret, configs := deal(t, 5, 2)
	require.Len(t, configs, 5)

	X := secret.ActOnBase()
	for id, c := range configs {
		require.NoError(t, c.Validate(), "party %s", id)
		assert.True(t, c.PublicPoint().Equal(X))
		assert.Equal(t, 5, c.N())
		assert.Equal(t, party.IDSlice{1, 2, 3, 4, 5}, c.PartyIDs())
	}

	assert.True(t, reconstruct(configs, []party.ID{1, 3, 5}).Equal(secret))
	assert.True(t, reconstruct(configs, []party.ID{2, 4, 5}).Equal(secret))
	assert.False(t, reconstruct(configs, []party.ID{2, 4}).Equal(secret))

	_, err := Deal(group, rand.Reader, []party.ID{1, 2}, 2, nil)
	assert.Error(t, err)
	_, err = Deal(group, rand.Reader, []party.ID{1, 1, 2}, 1, nil)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	_, configs := deal(t, 3, 1)
	c := configs[1].Copy()
	require.NoError(t, c.Validate())

	c.ECDSA = sample.ScalarUnit(rand.Reader, group)
	assert.Error(t, c.Validate(), "secret must match public share")

	c = configs[1].Copy()
	c.Threshold = 3
	assert.Error(t, c.Validate())

	c = configs[1].Copy()
	delete(c.Public, 1)
	assert.Error(t, c.Validate())

	c = configs[1].Copy()
	c.ChainCode = []byte{1, 2, 3}
	assert.Error(t, c.Validate())
}

func TestConfig_Copy(t *testing.T) {
	_, configs := deal(t, 3, 1)
	c := configs[2]
	c2 := c.Copy()
	c2.ECDSA.Add(c2.ECDSA)
	c2.Public[3] = group.NewBasePoint()
	assert.False(t, c.ECDSA.Equal(c2.ECDSA))
	assert.False(t, c.Public[3].Equal(c2.Public[3]))
}

func TestConfig_Marshal(t *testing.T) {
	_, configs := deal(t, 4, 2)
	c := configs[3]
	c.ChainCode, _ = group.NewBasePoint().MarshalBinary()

	data, err := c.MarshalBinary()
	require.NoError(t, err)

	c2 := EmptyConfig(group)
	require.NoError(t, c2.UnmarshalBinary(data))
	assert.Equal(t, c.ID, c2.ID)
	assert.Equal(t, c.Threshold, c2.Threshold)
	assert.Equal(t, c.ChainCode, c2.ChainCode)
	assert.True(t, c.ECDSA.Equal(c2.ECDSA))
	for id, X := range c.Public {
		assert.True(t, X.Equal(c2.Public[id]))
	}

	// the group is taken from the data when not set
	c3 := new(Config)
	require.NoError(t, c3.UnmarshalBinary(data))
	assert.Equal(t, group.Name(), c3.Group.Name())
	assert.True(t, c.PublicPoint().Equal(c3.PublicPoint()))

	assert.Error(t, EmptyConfig(group).UnmarshalBinary(data[:len(data)-3]))
}

func TestConfig_Derive(t *testing.T) {
	secret, configs := deal(t, 3, 1)
	path, err := bip32.PathFrom("44/60/0/0/7")
	require.NoError(t, err)

	derived := make(map[party.ID]*Config, len(configs))
	var child *bip32.Child
	for id, c := range configs {
		before, err := c.MarshalBinary()
		require.NoError(t, err)

		derived[id], child, err = c.Derive(nil, path)
		require.NoError(t, err)
		require.NoError(t, derived[id].Validate())
		assert.True(t, derived[id].PublicPoint().Equal(child.PublicKey))

		after, err := c.MarshalBinary()
		require.NoError(t, err)
		assert.Equal(t, before, after, "derivation must not modify the parent share")
	}

	childSecret := group.NewScalar().Set(secret).Add(child.Offset)
	assert.True(t, reconstruct(derived, []party.ID{1, 3}).Equal(childSecret))

	// deriving along a path in two steps gives the same key,
	// as the chain code is carried over in the config
	first, _, err := configs[1].Derive(nil, path[:2])
	require.NoError(t, err)
	second, _, err := first.Derive(nil, path[2:])
	require.NoError(t, err)
	assert.True(t, second.PublicPoint().Equal(child.PublicKey))

	_, _, err = configs[1].Derive(big.NewInt(5), path)
	assert.ErrorIs(t, err, bip32.ErrInvalidEncoding)
}

func TestStore(t *testing.T) {
	_, configs := deal(t, 3, 1)
	dir := t.TempDir()
	path := filepath.Join(dir, "share.cbor")

	out, err := Reserve(path)
	require.NoError(t, err)

	_, err = Reserve(path)
	assert.Error(t, err, "an existing output must never be overwritten")

	require.NoError(t, out.Commit(configs[2]))
	assert.Error(t, out.Commit(configs[2]))
	assert.NoError(t, out.Discard(), "discard after commit keeps the share")

	loaded, err := Load(path, group)
	require.NoError(t, err)
	assert.True(t, loaded.ECDSA.Equal(configs[2].ECDSA))
	assert.Equal(t, party.ID(2), loaded.ID)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary file must be left behind")
}

func TestStore_Discard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "share.cbor")
	out, err := Reserve(path)
	require.NoError(t, err)
	require.NoError(t, out.Discard())
	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(path, group)
	assert.Error(t, err)
}
