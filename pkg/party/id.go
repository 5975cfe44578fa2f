package party

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/cronokirby/saferith"
	"github.com/taurusgroup/threshold-keys/pkg/math/curve"
)

// ByteSize is the number of bytes required to store an ID.
const ByteSize = 2

// MAX is the largest value an ID can take.
const MAX = (1 << (ByteSize * 8)) - 1

// ID is the 1-based index of a party within a group.
//
// The value 0 is reserved: it is never a valid party, and is used in messages
// to indicate a broadcast.
type ID uint16

// ErrInvalidID is returned when an ID is 0 or cannot be parsed.
var ErrInvalidID = errors.New("party: invalid ID")

// Scalar returns the ID as a scalar of the given group, which is the
// evaluation point of this party's share.
func (id ID) Scalar(group curve.Curve) curve.Scalar {
	return group.NewScalar().SetNat(new(saferith.Nat).SetUint64(uint64(id)))
}

// Bytes returns a big-endian slice of length ByteSize.
func (id ID) Bytes() []byte {
	out := make([]byte, ByteSize)
	binary.BigEndian.PutUint16(out, uint16(id))
	return out
}

// String returns a base 10 representation of ID.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Validate returns an error if the ID is 0.
func (id ID) Validate() error {
	if id == 0 {
		return ErrInvalidID
	}
	return nil
}

// WriteTo implements io.WriterTo interface.
func (id ID) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(id.Bytes())
	return int64(n), err
}

// Domain implements hash.WriterToWithDomain, and separates this type within hash.Hash.
func (ID) Domain() string {
	return "ID"
}

// FromString parses a base 10 string into a non-zero ID.
func FromString(str string) (ID, error) {
	p, err := strconv.ParseUint(str, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("party.FromString: %w: %v", ErrInvalidID, err)
	}
	if p == 0 {
		return 0, fmt.Errorf("party.FromString: %w: 0", ErrInvalidID)
	}
	return ID(p), nil
}

// FromInt converts a 1-based index into an ID.
func FromInt(i int) (ID, error) {
	if i <= 0 || i > MAX {
		return 0, fmt.Errorf("party.FromInt: %w: %d", ErrInvalidID, i)
	}
	return ID(i), nil
}
