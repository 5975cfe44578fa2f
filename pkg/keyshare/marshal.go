package keyshare

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/taurusgroup/threshold-keys/pkg/math/curve"
	"github.com/taurusgroup/threshold-keys/pkg/party"
)

// EmptyConfig creates an empty Config with a fixed group, ready for unmarshalling.
//
// A Config without a group can also be unmarshalled, in which case the group
// recorded in the data is used.
func EmptyConfig(group curve.Curve) *Config {
	return &Config{
		Group: group,
	}
}

type configMarshal struct {
	Group     string
	ID        party.ID
	Threshold int
	ECDSA     []byte
	ChainCode []byte
	Public    []publicMarshal
}

type publicMarshal struct {
	ID    party.ID
	ECDSA []byte
}

func (c *Config) MarshalBinary() ([]byte, error) {
	ecdsa, err := c.ECDSA.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	ps := make([]publicMarshal, 0, len(c.Public))
	for _, id := range c.PartyIDs() {
		data, err := c.Public[id].MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("config: party %s: %w", id, err)
		}
		ps = append(ps, publicMarshal{ID: id, ECDSA: data})
	}
	return cbor.Marshal(&configMarshal{
		Group:     c.Group.Name(),
		ID:        c.ID,
		Threshold: c.Threshold,
		ECDSA:     ecdsa,
		ChainCode: c.ChainCode,
		Public:    ps,
	})
}

func (c *Config) UnmarshalBinary(data []byte) error {
	var cm configMarshal
	if err := cbor.Unmarshal(data, &cm); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Group == nil {
		group, err := curve.FromName(cm.Group)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		c.Group = group
	}
	if cm.Group != c.Group.Name() {
		return fmt.Errorf("config: share is for group %q, expected %q", cm.Group, c.Group.Name())
	}

	ecdsa := c.Group.NewScalar()
	if err := ecdsa.UnmarshalBinary(cm.ECDSA); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ps := make(map[party.ID]curve.Point, len(cm.Public))
	for _, pm := range cm.Public {
		if _, ok := ps[pm.ID]; ok {
			return fmt.Errorf("config: party %s: duplicate entry", pm.ID)
		}
		X := c.Group.NewPoint()
		if err := X.UnmarshalBinary(pm.ECDSA); err != nil {
			return fmt.Errorf("config: party %s: %w", pm.ID, err)
		}
		ps[pm.ID] = X
	}

	out := Config{
		Group:     c.Group,
		ID:        cm.ID,
		Threshold: cm.Threshold,
		ECDSA:     ecdsa,
		Public:    ps,
		ChainCode: cm.ChainCode,
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*c = out
	return nil
}
