// Package refresh coordinates a key refresh round, in which every party
// broadcasts a single contribution and folds all of them into a new share.
package refresh

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/taurusgroup/threshold-keys/internal/types"
	"github.com/taurusgroup/threshold-keys/pkg/hash"
	"github.com/taurusgroup/threshold-keys/pkg/keyshare"
	"github.com/taurusgroup/threshold-keys/pkg/party"
	"github.com/taurusgroup/threshold-keys/pkg/protocol"
)

// ProtocolID identifies refresh messages on a Transport.
const ProtocolID = "threshold-keys/refresh"

// State is the position of a Coordinator in a round.
type State int

const (
	Idle State = iota
	ContributionSent
	Collecting
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ContributionSent:
		return "contribution sent"
	case Collecting:
		return "collecting"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Action reports what Receive did with a contribution.
type Action int

const (
	// ActionDiscarded means the contribution was the local party's own, echoed back by the transport.
	ActionDiscarded Action = iota
	// ActionStored means the contribution was the first from its sender.
	ActionStored
	// ActionReplaced means the contribution replaced an earlier one from the same sender.
	ActionReplaced
	// ActionReady means the contribution was stored, and every contribution is now present.
	ActionReady
)

func (a Action) String() string {
	switch a {
	case ActionDiscarded:
		return "discarded"
	case ActionStored:
		return "stored"
	case ActionReplaced:
		return "replaced"
	case ActionReady:
		return "ready"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSessionID binds the round to an identifier agreed upon by the callers,
// such as the name of the room used to exchange messages.
func WithSessionID(sessionID []byte) Option {
	return func(c *Coordinator) {
		c.sessionID = append([]byte(nil), sessionID...)
	}
}

// Coordinator runs one refresh round for one party.
//
// Its methods may be called from different goroutines.
// A Coordinator which has completed or aborted cannot be reused.
type Coordinator struct {
	mu sync.Mutex

	engine    Engine
	share     *keyshare.Config
	groupSize int
	removed   party.IDSlice
	sessionID []byte
	ssid      []byte

	state     State
	pending   Pending
	collected map[party.ID]*Contribution

	log logrus.FieldLogger
}

// NewCoordinator returns a Coordinator for share, expecting groupSize contributions.
//
// groupSize must be the number of parties in share, and removed a subset of them.
func NewCoordinator(engine Engine, share *keyshare.Config, groupSize int, removed []party.ID, opts ...Option) (*Coordinator, error) {
	if engine == nil {
		return nil, errors.New("refresh.NewCoordinator: nil engine")
	}
	if err := share.Validate(); err != nil {
		return nil, fmt.Errorf("refresh.NewCoordinator: %w", err)
	}
	if groupSize != share.N() {
		return nil, fmt.Errorf("refresh.NewCoordinator: group size %d, but share has %d parties", groupSize, share.N())
	}
	removedIDs := party.NewIDSlice(removed)
	if !removedIDs.Valid() {
		return nil, fmt.Errorf("refresh.NewCoordinator: removed parties %v contain duplicates or 0", removedIDs)
	}
	if !share.PartyIDs().Contains(removedIDs...) {
		return nil, fmt.Errorf("refresh.NewCoordinator: %w: removed parties %v not all in group", ErrUnknownSender, removedIDs)
	}

	discard := logrus.New()
	discard.Out = io.Discard
	c := &Coordinator{
		engine:    engine,
		share:     share,
		groupSize: groupSize,
		removed:   removedIDs,
		collected: make(map[party.ID]*Contribution, groupSize),
		log:       discard,
	}
	for _, opt := range opts {
		opt(c)
	}

	ssid, err := c.computeSSID()
	if err != nil {
		return nil, fmt.Errorf("refresh.NewCoordinator: %w", err)
	}
	c.ssid = ssid
	return c, nil
}

// computeSSID derives the session identifier every party of the round computes identically.
//
// The removal list and the group key are left out: disagreement on those must be
// detected and reported when finalizing, instead of silently splitting the round.
func (c *Coordinator) computeSSID() ([]byte, error) {
	h := hash.New()
	err := h.WriteAny(
		ProtocolID,
		c.share.Group.Name(),
		c.share.PartyIDs(),
		types.ThresholdWrapper(c.share.Threshold),
		hash.BytesWithDomain{TheDomain: "Session ID", Bytes: c.sessionID},
	)
	if err != nil {
		return nil, err
	}
	return h.Sum(), nil
}

// SetLogger replaces the logger, which discards everything by default.
func (c *Coordinator) SetLogger(log logrus.FieldLogger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = log.WithFields(logrus.Fields{
		"party":    c.share.ID,
		"protocol": ProtocolID,
	})
}

// SSID returns the session identifier of the round.
func (c *Coordinator) SSID() []byte {
	return append([]byte(nil), c.ssid...)
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Collected returns the number of contributions collected, the local one included.
func (c *Coordinator) Collected() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.collected)
}

// Ready returns true when Finalize can be called.
func (c *Coordinator) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyLocked()
}

func (c *Coordinator) readyLocked() bool {
	return (c.state == ContributionSent || c.state == Collecting) && len(c.collected) == c.groupSize
}

// Begin produces the local contribution, which the caller must broadcast.
func (c *Coordinator) Begin() (*Contribution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Idle {
		return nil, fmt.Errorf("refresh.Begin: %w: state is %s", ErrRoundClosed, c.state)
	}

	payload, pending, err := c.engine.Distribute(c.SSID(), c.share, c.removed.Copy())
	if err != nil {
		c.abortLocked()
		return nil, fmt.Errorf("refresh.Begin: %w", err)
	}

	local := &Contribution{
		From:      c.share.ID,
		PublicKey: c.share.PublicPoint(),
		Removed:   c.removed.Copy(),
		Payload:   payload,
	}
	c.pending = pending
	c.collected[local.From] = local

	c.state = ContributionSent
	if len(c.collected) > 1 {
		c.state = Collecting
	}
	c.log.WithFields(logrus.Fields{
		"removed":   c.removed.String(),
		"collected": len(c.collected),
	}).Info("refresh round started")

	out := *local
	out.Removed = local.Removed.Copy()
	return &out, nil
}

// Receive records a contribution from another party.
//
// The local party's own contribution is discarded, since it was already recorded by Begin.
// A second contribution from the same sender replaces the first.
// Contributions received before Begin are kept.
func (c *Coordinator) Receive(contribution *Contribution) (Action, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Completed || c.state == Aborted {
		return ActionDiscarded, fmt.Errorf("refresh.Receive: %w: state is %s", ErrRoundClosed, c.state)
	}
	if contribution == nil {
		return ActionDiscarded, fmt.Errorf("refresh.Receive: %w: nil contribution", ErrUnknownSender)
	}

	from := contribution.From
	log := c.log.WithField("from", from)
	if from == c.share.ID {
		log.Debug("discarding own contribution")
		return ActionDiscarded, nil
	}
	if _, ok := c.share.Public[from]; !ok {
		return ActionDiscarded, fmt.Errorf("refresh.Receive: %w: %s", ErrUnknownSender, from)
	}

	action := ActionStored
	if _, ok := c.collected[from]; ok {
		action = ActionReplaced
		log.Warn("replacing earlier contribution")
	}
	c.collected[from] = contribution

	if c.state == ContributionSent {
		c.state = Collecting
	}
	if c.readyLocked() {
		action = ActionReady
	}
	log.WithFields(logrus.Fields{
		"collected": len(c.collected),
		"expected":  c.groupSize,
		"action":    action.String(),
	}).Debug("received contribution")
	return action, nil
}

// Finalize verifies the collected contributions and returns the new share.
//
// If the round removes the local party, ErrPartyRemoved is returned and no share is produced.
// The share the Coordinator was created with is never modified.
func (c *Coordinator) Finalize() (*keyshare.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Completed || c.state == Aborted {
		return nil, fmt.Errorf("refresh.Finalize: %w: state is %s", ErrRoundClosed, c.state)
	}
	if !c.readyLocked() {
		return nil, fmt.Errorf("refresh.Finalize: %w: %d of %d contributions in state %s",
			ErrIncompleteRound, len(c.collected), c.groupSize, c.state)
	}

	sorted := c.sortedLocked()
	if err := c.checkAgreementLocked(sorted); err != nil {
		c.abortLocked()
		return nil, fmt.Errorf("refresh.Finalize: %w", err)
	}

	if c.removed.Contains(c.share.ID) {
		c.wipeLocked()
		c.state = Completed
		c.log.Info("refresh round completed, local party removed")
		return nil, ErrPartyRemoved
	}

	newShare, err := c.engine.Combine(c.SSID(), c.share, sorted, c.pending, c.removed.Copy())
	if err != nil {
		c.abortLocked()
		if errors.Is(err, ErrRefreshVerificationFailed) {
			return nil, fmt.Errorf("refresh.Finalize: %w", err)
		}
		return nil, fmt.Errorf("refresh.Finalize: %w: %w", ErrRefreshVerificationFailed, err)
	}

	c.wipeLocked()
	c.state = Completed
	c.log.WithField("parties", newShare.N()).Info("refresh round completed")
	return newShare, nil
}

// Abort ends the round, wiping all secret material.
//
// Aborting a completed round has no effect.
func (c *Coordinator) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Completed || c.state == Aborted {
		return
	}
	c.abortLocked()
}

func (c *Coordinator) abortLocked() {
	c.wipeLocked()
	c.state = Aborted
	c.log.Warn("refresh round aborted")
}

func (c *Coordinator) wipeLocked() {
	if c.pending != nil {
		c.pending.Zeroize()
		c.pending = nil
	}
	c.collected = make(map[party.ID]*Contribution)
}

// sortedLocked returns the collected contributions sorted by sender.
func (c *Coordinator) sortedLocked() []*Contribution {
	sorted := make([]*Contribution, 0, len(c.collected))
	for _, contribution := range c.collected {
		sorted = append(sorted, contribution)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].From < sorted[j].From })
	return sorted
}

// checkAgreementLocked requires every contribution to name the same group key
// and the same removed parties as the local party.
func (c *Coordinator) checkAgreementLocked(sorted []*Contribution) error {
	publicKey := c.share.PublicPoint()
	for _, contribution := range sorted {
		if contribution.PublicKey == nil || !contribution.PublicKey.Equal(publicKey) {
			return protocol.Error{
				Culprit: contribution.From,
				Err:     fmt.Errorf("%w: different group key", ErrRefreshVerificationFailed),
			}
		}
		if !party.IDSlice(contribution.Removed).Equal(c.removed) {
			return protocol.Error{
				Culprit: contribution.From,
				Err: fmt.Errorf("%w: removed parties %v differ from %v",
					ErrRefreshVerificationFailed, contribution.Removed, c.removed),
			}
		}
	}
	return nil
}
