package refresh

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/taurusgroup/threshold-keys/pkg/math/curve"
	"github.com/taurusgroup/threshold-keys/pkg/party"
)

// Contribution is the single message each party broadcasts during a refresh round.
type Contribution struct {
	// From is the index of the sender in the current group.
	From party.ID
	// PublicKey is the group key as seen by the sender.
	PublicKey curve.Point
	// Removed lists the parties the sender wants removed from the group.
	Removed party.IDSlice
	// Payload is produced by the Engine, and is opaque to the Coordinator.
	Payload []byte
}

// EmptyContribution returns a Contribution ready to be unmarshalled.
func EmptyContribution(group curve.Curve) *Contribution {
	return &Contribution{PublicKey: group.NewPoint()}
}

type contributionMarshal struct {
	From      party.ID
	PublicKey *curve.MarshallablePoint
	Removed   []party.ID
	Payload   []byte
}

func (c *Contribution) MarshalBinary() ([]byte, error) {
	if c.PublicKey == nil || c.PublicKey.IsIdentity() {
		return nil, errors.New("refresh.Contribution: missing public key")
	}
	return cbor.Marshal(&contributionMarshal{
		From:      c.From,
		PublicKey: curve.NewMarshallablePoint(c.PublicKey),
		Removed:   c.Removed,
		Payload:   c.Payload,
	})
}

func (c *Contribution) UnmarshalBinary(data []byte) error {
	if c.PublicKey == nil {
		return errors.New("refresh.Contribution: must be initialized using EmptyContribution")
	}
	var cm contributionMarshal
	if err := cbor.Unmarshal(data, &cm); err != nil {
		return fmt.Errorf("refresh.Contribution: %w", err)
	}
	if err := cm.From.Validate(); err != nil {
		return fmt.Errorf("refresh.Contribution: %w", err)
	}
	if cm.PublicKey == nil || cm.PublicKey.Point == nil {
		return errors.New("refresh.Contribution: missing public key")
	}
	if group := cm.PublicKey.Point.Curve(); group.Name() != c.PublicKey.Curve().Name() {
		return fmt.Errorf("refresh.Contribution: public key on %s", group.Name())
	}
	removed := party.IDSlice(cm.Removed)
	if removed == nil {
		removed = party.IDSlice{}
	}
	if !removed.Valid() {
		return fmt.Errorf("refresh.Contribution: removed parties %v are not sorted and distinct", removed)
	}
	c.From = cm.From
	c.PublicKey = cm.PublicKey.Point
	c.Removed = removed
	c.Payload = cm.Payload
	return nil
}
