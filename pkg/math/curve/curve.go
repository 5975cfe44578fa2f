package curve

import (
	"encoding"

	"github.com/cronokirby/saferith"
)

// Curve represents the group over which a protocol is executed.
//
// Only secp256k1 is provided, but the protocols are written against this
// interface so that a Curve can be swapped in tests.
type Curve interface {
	NewPoint() Point
	NewBasePoint() Point
	NewScalar() Scalar
	Name() string
	ScalarBits() int
	SafeScalarBytes() int
	Order() *saferith.Modulus
}

// Scalar is an element of the field of integers modulo the order of a Curve.
//
// Arithmetic methods modify the receiver and return it, so that calls can be chained.
type Scalar interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
	Curve() Curve
	Add(Scalar) Scalar
	Sub(Scalar) Scalar
	Mul(Scalar) Scalar
	Negate() Scalar
	Invert() Scalar
	Equal(Scalar) bool
	IsZero() bool
	Set(Scalar) Scalar
	SetNat(*saferith.Nat) Scalar
	Act(Point) Point
	ActOnBase() Point
	// Zeroize sets the scalar to 0, overwriting the limbs holding its value.
	Zeroize()
}

// Point is an element of a Curve.
//
// Unlike Scalar, a Point is never modified by its methods.
type Point interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
	Curve() Curve
	Add(Point) Point
	Sub(Point) Point
	Negate() Point
	Set(Point) Point
	Equal(Point) bool
	IsIdentity() bool
	// XBytes returns the big-endian affine x coordinate.
	XBytes() []byte
	// YBytes returns the big-endian affine y coordinate.
	YBytes() []byte
}

// FromHash converts a hash value to a Scalar.
//
// There is some disagreement about how this should be done.
// [NSA] suggests that this is done in the obvious
// manner, but [SECG] truncates the hash to the bit-length of the curve order
// first. We follow [SECG] because that's what OpenSSL does. Additionally,
// OpenSSL right shifts excess bits from the number if the hash is too large
// and we mirror that too.
//
// Taken from crypto/ecdsa.
func FromHash(group Curve, h []byte) Scalar {
	order := group.Order()
	orderBits := order.BitLen()
	orderBytes := (orderBits + 7) / 8
	if len(h) > orderBytes {
		h = h[:orderBytes]
	}
	s := new(saferith.Nat).SetBytes(h)
	excess := len(h)*8 - orderBits
	if excess > 0 {
		s.Rsh(s, uint(excess), -1)
	}
	return group.NewScalar().SetNat(s)
}
