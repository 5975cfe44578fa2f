package curve

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// FromName returns the Curve registered under name.
func FromName(name string) (Curve, error) {
	switch name {
	case Secp256k1{}.Name():
		return Secp256k1{}, nil
	default:
		return nil, fmt.Errorf("curve: unknown group %q", name)
	}
}

type marshallableTagged struct {
	Group string
	Data  []byte
}

// MarshallablePoint wraps a Point so that it can be serialized with cbor
// without knowing the curve in advance.
type MarshallablePoint struct {
	Point Point
}

func NewMarshallablePoint(p Point) *MarshallablePoint {
	return &MarshallablePoint{Point: p}
}

func (m *MarshallablePoint) MarshalCBOR() ([]byte, error) {
	data, err := m.Point.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(&marshallableTagged{Group: m.Point.Curve().Name(), Data: data})
}

func (m *MarshallablePoint) UnmarshalCBOR(data []byte) error {
	var tagged marshallableTagged
	if err := cbor.Unmarshal(data, &tagged); err != nil {
		return err
	}
	group, err := FromName(tagged.Group)
	if err != nil {
		return err
	}
	p := group.NewPoint()
	if err = p.UnmarshalBinary(tagged.Data); err != nil {
		return err
	}
	m.Point = p
	return nil
}
