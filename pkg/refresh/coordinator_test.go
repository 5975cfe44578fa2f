package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taurusgroup/threshold-keys/internal/test"
	"github.com/taurusgroup/threshold-keys/pkg/keyshare"
	"github.com/taurusgroup/threshold-keys/pkg/math/curve"
	"github.com/taurusgroup/threshold-keys/pkg/party"
	"github.com/taurusgroup/threshold-keys/pkg/protocol"
	"golang.org/x/sync/errgroup"
)

var group = curve.Secp256k1{}

type mockPending struct {
	mtx   sync.Mutex
	wiped bool
}

func (p *mockPending) Zeroize() {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.wiped = true
}

func (p *mockPending) Wiped() bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.wiped
}

// mockEngine returns a copy of the share without the removed parties,
// and records the order in which contributions were combined.
type mockEngine struct {
	mtx        sync.Mutex
	pending    *mockPending
	order      []party.ID
	payloads   map[party.ID][]byte
	combined   int
	combineErr error
}

func (e *mockEngine) Distribute(_ []byte, share *keyshare.Config, _ party.IDSlice) ([]byte, Pending, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.pending = &mockPending{}
	return []byte{byte(share.ID)}, e.pending, nil
}

func (e *mockEngine) Combine(_ []byte, share *keyshare.Config, contributions []*Contribution, pending Pending, removed party.IDSlice) (*keyshare.Config, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.combined++
	if pending != Pending(e.pending) {
		return nil, errors.New("wrong pending state")
	}
	e.order = e.order[:0]
	e.payloads = make(map[party.ID][]byte, len(contributions))
	for _, c := range contributions {
		e.order = append(e.order, c.From)
		e.payloads[c.From] = c.Payload
	}
	if e.combineErr != nil {
		return nil, e.combineErr
	}
	out := share.Copy()
	for _, id := range removed {
		delete(out.Public, id)
	}
	return out, nil
}

func contributionFrom(c *keyshare.Config, removed party.IDSlice, payload ...byte) *Contribution {
	if payload == nil {
		payload = []byte{byte(c.ID)}
	}
	return &Contribution{
		From:      c.ID,
		PublicKey: c.PublicPoint(),
		Removed:   removed,
		Payload:   payload,
	}
}

func newCoordinator(t *testing.T, configs map[party.ID]*keyshare.Config, id party.ID, removed ...party.ID) (*Coordinator, *mockEngine) {
	engine := &mockEngine{}
	c, err := NewCoordinator(engine, configs[id], len(configs), removed)
	require.NoError(t, err)
	return c, engine
}

func TestCoordinator_SelfEcho(t *testing.T) {
	configs := test.Shares(group, 3, 1)
	c, _ := newCoordinator(t, configs, 1)

	local, err := c.Begin()
	require.NoError(t, err)
	assert.Equal(t, ContributionSent, c.State())
	assert.Equal(t, 1, c.Collected())

	action, err := c.Receive(local)
	require.NoError(t, err)
	assert.Equal(t, ActionDiscarded, action)
	assert.Equal(t, 1, c.Collected())
	assert.Equal(t, ContributionSent, c.State())
}

func TestCoordinator_Incomplete(t *testing.T) {
	configs := test.Shares(group, 3, 1)
	c, engine := newCoordinator(t, configs, 1)

	_, err := c.Finalize()
	assert.ErrorIs(t, err, ErrIncompleteRound)
	assert.Equal(t, Idle, c.State())

	_, err = c.Begin()
	require.NoError(t, err)
	action, err := c.Receive(contributionFrom(configs[3], nil))
	require.NoError(t, err)
	assert.Equal(t, ActionStored, action)
	assert.Equal(t, Collecting, c.State())

	_, err = c.Finalize()
	assert.ErrorIs(t, err, ErrIncompleteRound)
	assert.Equal(t, Collecting, c.State())
	assert.False(t, engine.pending.Wiped())

	action, err = c.Receive(contributionFrom(configs[2], nil))
	require.NoError(t, err)
	assert.Equal(t, ActionReady, action)
	assert.True(t, c.Ready())

	_, err = c.Finalize()
	require.NoError(t, err)
	assert.Equal(t, Completed, c.State())
	assert.True(t, engine.pending.Wiped())
}

func TestCoordinator_Ordering(t *testing.T) {
	configs := test.Shares(group, 4, 2)
	permutations := [][]party.ID{
		{2, 3, 4},
		{4, 3, 2},
		{3, 2, 4},
		{4, 2, 3},
	}
	var first *keyshare.Config
	for _, order := range permutations {
		c, engine := newCoordinator(t, configs, 1)
		_, err := c.Begin()
		require.NoError(t, err)
		for _, id := range order {
			_, err = c.Receive(contributionFrom(configs[id], nil))
			require.NoError(t, err)
		}
		share, err := c.Finalize()
		require.NoError(t, err)
		assert.Equal(t, []party.ID{1, 2, 3, 4}, engine.order, "arrival order %v", order)

		if first == nil {
			first = share
			continue
		}
		assert.True(t, first.ECDSA.Equal(share.ECDSA))
	}
}

func TestCoordinator_LastWriteWins(t *testing.T) {
	configs := test.Shares(group, 3, 1)
	c, engine := newCoordinator(t, configs, 2)
	_, err := c.Begin()
	require.NoError(t, err)

	action, err := c.Receive(contributionFrom(configs[1], nil, 0xAA))
	require.NoError(t, err)
	assert.Equal(t, ActionStored, action)
	action, err = c.Receive(contributionFrom(configs[1], nil, 0xBB))
	require.NoError(t, err)
	assert.Equal(t, ActionReplaced, action)
	assert.Equal(t, 2, c.Collected())

	action, err = c.Receive(contributionFrom(configs[3], nil))
	require.NoError(t, err)
	assert.Equal(t, ActionReady, action)

	_, err = c.Finalize()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xBB}, engine.payloads[1])
}

func TestCoordinator_UnknownSender(t *testing.T) {
	configs := test.Shares(group, 3, 1)
	c, _ := newCoordinator(t, configs, 1)
	_, err := c.Begin()
	require.NoError(t, err)

	other := test.Shares(group, 5, 1)
	_, err = c.Receive(contributionFrom(other[5], nil))
	assert.ErrorIs(t, err, ErrUnknownSender)
	_, err = c.Receive(nil)
	assert.ErrorIs(t, err, ErrUnknownSender)
	assert.Equal(t, ContributionSent, c.State())
	assert.Equal(t, 1, c.Collected())
}

func TestCoordinator_EarlyContribution(t *testing.T) {
	configs := test.Shares(group, 3, 1)
	c, _ := newCoordinator(t, configs, 1)

	action, err := c.Receive(contributionFrom(configs[2], nil))
	require.NoError(t, err)
	assert.Equal(t, ActionStored, action)
	assert.Equal(t, Idle, c.State())
	assert.False(t, c.Ready())

	_, err = c.Begin()
	require.NoError(t, err)
	assert.Equal(t, Collecting, c.State())
	assert.Equal(t, 2, c.Collected())

	_, err = c.Begin()
	assert.ErrorIs(t, err, ErrRoundClosed)
}

func TestCoordinator_Abort(t *testing.T) {
	configs := test.Shares(group, 3, 1)
	c, engine := newCoordinator(t, configs, 1)
	_, err := c.Begin()
	require.NoError(t, err)
	_, err = c.Receive(contributionFrom(configs[2], nil))
	require.NoError(t, err)

	c.Abort()
	assert.Equal(t, Aborted, c.State())
	assert.True(t, engine.pending.Wiped())
	assert.Equal(t, 0, c.Collected())

	_, err = c.Receive(contributionFrom(configs[3], nil))
	assert.ErrorIs(t, err, ErrRoundClosed)
	_, err = c.Finalize()
	assert.ErrorIs(t, err, ErrRoundClosed)
	_, err = c.Begin()
	assert.ErrorIs(t, err, ErrRoundClosed)
}

func TestCoordinator_DisagreeingRemoval(t *testing.T) {
	configs := test.Shares(group, 3, 1)
	c, engine := newCoordinator(t, configs, 1, 2)
	_, err := c.Begin()
	require.NoError(t, err)
	_, err = c.Receive(contributionFrom(configs[2], party.IDSlice{2}))
	require.NoError(t, err)
	_, err = c.Receive(contributionFrom(configs[3], party.IDSlice{}))
	require.NoError(t, err)

	_, err = c.Finalize()
	assert.ErrorIs(t, err, ErrRefreshVerificationFailed)
	var protocolErr protocol.Error
	require.ErrorAs(t, err, &protocolErr)
	assert.Equal(t, party.ID(3), protocolErr.Culprit)
	assert.Equal(t, Aborted, c.State())
	assert.True(t, engine.pending.Wiped())
	assert.Zero(t, engine.combined)
}

func TestCoordinator_DifferentGroupKey(t *testing.T) {
	configs := test.Shares(group, 3, 1)
	other := test.Shares(group, 3, 1)
	c, _ := newCoordinator(t, configs, 1)
	_, err := c.Begin()
	require.NoError(t, err)
	_, err = c.Receive(contributionFrom(configs[2], nil))
	require.NoError(t, err)
	_, err = c.Receive(contributionFrom(other[3], nil))
	require.NoError(t, err)

	_, err = c.Finalize()
	assert.ErrorIs(t, err, ErrRefreshVerificationFailed)
	assert.Equal(t, Aborted, c.State())
}

func TestCoordinator_GroupShrink(t *testing.T) {
	configs := test.Shares(group, 3, 1)
	removed := party.IDSlice{2}

	for _, id := range []party.ID{1, 2} {
		c, engine := newCoordinator(t, configs, id, removed...)
		_, err := c.Begin()
		require.NoError(t, err)
		for _, j := range test.PartyIDs(3) {
			if j != id {
				_, err = c.Receive(contributionFrom(configs[j], removed))
				require.NoError(t, err)
			}
		}
		share, err := c.Finalize()
		assert.Equal(t, Completed, c.State())
		assert.True(t, engine.pending.Wiped())
		if id == 2 {
			assert.ErrorIs(t, err, ErrPartyRemoved)
			assert.Nil(t, share)
			assert.Zero(t, engine.combined)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, 2, share.N())
		assert.Equal(t, 3, configs[id].N(), "the old share must not be modified")
	}
}

func TestCoordinator_CombineFailure(t *testing.T) {
	configs := test.Shares(group, 2, 1)
	c, engine := newCoordinator(t, configs, 1)
	errBadProof := errors.New("bad proof")
	engine.combineErr = errBadProof

	_, err := c.Begin()
	require.NoError(t, err)
	_, err = c.Receive(contributionFrom(configs[2], nil))
	require.NoError(t, err)

	_, err = c.Finalize()
	assert.ErrorIs(t, err, ErrRefreshVerificationFailed)
	assert.ErrorIs(t, err, errBadProof)
	assert.Equal(t, Aborted, c.State())
	assert.True(t, engine.pending.Wiped())
}

func TestNewCoordinator_Errors(t *testing.T) {
	configs := test.Shares(group, 3, 1)
	_, err := NewCoordinator(&mockEngine{}, configs[1], 4, nil)
	assert.Error(t, err)
	_, err = NewCoordinator(&mockEngine{}, configs[1], 3, []party.ID{7})
	assert.ErrorIs(t, err, ErrUnknownSender)
	_, err = NewCoordinator(nil, configs[1], 3, nil)
	assert.Error(t, err)
}

func TestContribution_Marshal(t *testing.T) {
	configs := test.Shares(group, 3, 1)
	c := contributionFrom(configs[2], party.IDSlice{1, 3}, 1, 2, 3)

	data, err := c.MarshalBinary()
	require.NoError(t, err)
	c2 := EmptyContribution(group)
	require.NoError(t, c2.UnmarshalBinary(data))
	assert.Equal(t, c.From, c2.From)
	assert.Equal(t, c.Removed, c2.Removed)
	assert.Equal(t, c.Payload, c2.Payload)
	assert.True(t, c.PublicKey.Equal(c2.PublicKey))

	unsorted := contributionFrom(configs[2], party.IDSlice{3, 1})
	data, err = unsorted.MarshalBinary()
	require.NoError(t, err)
	assert.Error(t, EmptyContribution(group).UnmarshalBinary(data))
}

func runAll(ctx context.Context, network *test.Network, configs map[party.ID]*keyshare.Config, ids party.IDSlice, sessionID []byte) (map[party.ID]*keyshare.Config, map[party.ID]*Coordinator, error) {
	var mtx sync.Mutex
	results := make(map[party.ID]*keyshare.Config, len(ids))
	coordinators := make(map[party.ID]*Coordinator, len(ids))
	var g errgroup.Group
	for _, id := range ids {
		c, err := NewCoordinator(&mockEngine{}, configs[id], len(configs), nil, WithSessionID(sessionID))
		if err != nil {
			return nil, nil, err
		}
		coordinators[id] = c
		id := id
		g.Go(func() error {
			share, err := c.Run(ctx, network.Endpoint(id))
			mtx.Lock()
			defer mtx.Unlock()
			results[id] = share
			return err
		})
	}
	err := g.Wait()
	return results, coordinators, err
}

func TestCoordinator_Run(t *testing.T) {
	configs := test.Shares(group, 3, 1)
	ids := test.PartyIDs(3)
	network := test.NewNetwork(ids)

	// noise which must be skipped
	ctx := context.Background()
	require.NoError(t, network.Endpoint(1).Send(ctx, &protocol.Message{From: 1, Protocol: "other", Data: []byte{1}}))
	require.NoError(t, network.Endpoint(2).Send(ctx, &protocol.Message{From: 2, Protocol: ProtocolID, SSID: []byte("other session")}))

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	results, coordinators, err := runAll(ctx, network, configs, ids, []byte("room"))
	require.NoError(t, err)
	for _, id := range ids {
		require.NotNil(t, results[id])
		assert.Equal(t, Completed, coordinators[id].State())
		assert.Equal(t, coordinators[1].SSID(), coordinators[id].SSID())
	}
}

func TestCoordinator_RunTimeout(t *testing.T) {
	configs := test.Shares(group, 3, 1)
	ids := test.PartyIDs(3)
	network := test.NewNetwork(ids)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, coordinators, err := runAll(ctx, network, configs, ids[:2], nil)
	assert.ErrorIs(t, err, ErrIncompleteRound)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	for _, c := range coordinators {
		assert.Equal(t, Aborted, c.State())
	}
}

func TestCoordinator_RunTransportClosed(t *testing.T) {
	configs := test.Shares(group, 2, 1)
	network := test.NewNetwork(test.PartyIDs(2))
	c, _ := newCoordinator(t, configs, 1)

	// party 1 sees its own message, then the transport closes
	go func() {
		<-time.After(50 * time.Millisecond)
		network.Done(1)
	}()
	_, err := c.Run(context.Background(), network.Endpoint(1))
	assert.ErrorIs(t, err, ErrIncompleteRound)
	assert.Equal(t, Aborted, c.State())
}

func TestCoordinator_SessionID(t *testing.T) {
	configs := test.Shares(group, 2, 1)
	a, err := NewCoordinator(&mockEngine{}, configs[1], 2, nil, WithSessionID([]byte("a")))
	require.NoError(t, err)
	b, err := NewCoordinator(&mockEngine{}, configs[2], 2, nil, WithSessionID([]byte("b")))
	require.NoError(t, err)
	assert.NotEqual(t, a.SSID(), b.SSID())

	// the removal list is not part of the session, so that disagreement is reported
	c, err := NewCoordinator(&mockEngine{}, configs[2], 2, []party.ID{1}, WithSessionID([]byte("a")))
	require.NoError(t, err)
	assert.Equal(t, a.SSID(), c.SSID())
}
