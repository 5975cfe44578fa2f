package polynomial

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/taurusgroup/threshold-keys/pkg/math/curve"
)

// Exponent represents a polynomial whose coefficients are points on an elliptic curve.
type Exponent struct {
	group curve.Curve
	// IsConstant indicates that the constant coefficient is the identity.
	// We do this so that we never have to send an encoded Identity point, and thus consider it invalid
	IsConstant   bool
	coefficients []curve.Point
}

// NewPolynomialExponent generates an Exponent polynomial F(X) = [secret + a₁•X + … + aₜ•Xᵗ]•G,
// with coefficients in 𝔾, and degree t.
func NewPolynomialExponent(polynomial *Polynomial) *Exponent {
	p := &Exponent{
		group:        polynomial.group,
		IsConstant:   polynomial.coefficients[0].IsZero(),
		coefficients: make([]curve.Point, 0, len(polynomial.coefficients)),
	}

	for i, c := range polynomial.coefficients {
		if p.IsConstant && i == 0 {
			continue
		}
		p.coefficients = append(p.coefficients, c.ActOnBase())
	}

	return p
}

// Evaluate returns F(x) = [f(x)]•G.
func (p *Exponent) Evaluate(x curve.Scalar) curve.Point {
	result := p.group.NewPoint()

	for i := len(p.coefficients) - 1; i >= 0; i-- {
		// Bₙ₋₁ = [x]Bₙ  + Aₙ₋₁
		if !result.IsIdentity() {
			result = x.Act(result)
		}
		result = result.Add(p.coefficients[i])
	}

	if p.IsConstant {
		// result is B₁
		// we want B₀ = [x]B₁ + A₀ = [x]B₁
		result = x.Act(result)
	}

	return result
}

// Degree returns the degree t of the polynomial.
func (p *Exponent) Degree() int {
	if p.IsConstant {
		return len(p.coefficients)
	}
	return len(p.coefficients) - 1
}

func (p *Exponent) add(q *Exponent) error {
	if len(p.coefficients) != len(q.coefficients) {
		return errors.New("q is not the same length as p")
	}

	if p.IsConstant != q.IsConstant {
		return errors.New("p and q differ in 'IsConstant'")
	}

	for i := 0; i < len(p.coefficients); i++ {
		p.coefficients[i] = p.coefficients[i].Add(q.coefficients[i])
	}

	return nil
}

// Sum creates a new Polynomial in the Exponent, by summing a slice of existing ones.
func Sum(polynomials []*Exponent) (*Exponent, error) {
	var err error

	// Create the new polynomial by copying the first one given
	summed := polynomials[0].copy()

	// we assume all polynomials have the same degree as the first
	for j := 1; j < len(polynomials); j++ {
		err = summed.add(polynomials[j])
		if err != nil {
			return nil, err
		}
	}
	return summed, nil
}

func (p *Exponent) copy() *Exponent {
	q := &Exponent{
		group:        p.group,
		IsConstant:   p.IsConstant,
		coefficients: make([]curve.Point, len(p.coefficients)),
	}
	copy(q.coefficients, p.coefficients)
	return q
}

// Equal returns true if p and other have the same coefficients.
func (p *Exponent) Equal(other Exponent) bool {
	if p.IsConstant != other.IsConstant {
		return false
	}
	if len(p.coefficients) != len(other.coefficients) {
		return false
	}
	for i := 0; i < len(p.coefficients); i++ {
		if !p.coefficients[i].Equal(other.coefficients[i]) {
			return false
		}
	}
	return true
}

// Constant returns the constant coefficient of the polynomial 'in the exponent'.
func (p *Exponent) Constant() curve.Point {
	c := p.group.NewPoint()
	if p.IsConstant {
		return c
	}
	return p.coefficients[0]
}

// WriteTo implements io.WriterTo and should be used within the hash.Hash function.
func (p *Exponent) WriteTo(w io.Writer) (int64, error) {
	if p == nil {
		return 0, io.ErrUnexpectedEOF
	}
	nAll := int64(0)
	// write the number of coefficients and the constant flag
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header, uint32(len(p.coefficients)))
	if p.IsConstant {
		header[4] = 1
	}
	n, err := w.Write(header)
	nAll += int64(n)
	if err != nil {
		return nAll, err
	}

	for _, c := range p.coefficients {
		data, err := c.MarshalBinary()
		if err != nil {
			return nAll, err
		}
		n, err = w.Write(data)
		nAll += int64(n)
		if err != nil {
			return nAll, err
		}
	}
	return nAll, nil
}

// Domain implements hash.WriterToWithDomain
func (*Exponent) Domain() string {
	return "Exponent"
}

// EmptyExponent returns an Exponent ready to be unmarshalled.
func EmptyExponent(group curve.Curve) *Exponent {
	return &Exponent{group: group}
}

type exponentSerialized struct {
	IsConstant   bool
	Coefficients [][]byte
}

func (p *Exponent) MarshalBinary() ([]byte, error) {
	coefficients := make([][]byte, 0, len(p.coefficients))
	for _, c := range p.coefficients {
		data, err := c.MarshalBinary()
		if err != nil {
			return nil, err
		}
		coefficients = append(coefficients, data)
	}
	return cbor.Marshal(exponentSerialized{
		IsConstant:   p.IsConstant,
		Coefficients: coefficients,
	})
}

func (p *Exponent) UnmarshalBinary(data []byte) error {
	if p == nil || p.group == nil {
		return errors.New("can't unmarshal Exponent with no group")
	}
	var serialized exponentSerialized
	if err := cbor.Unmarshal(data, &serialized); err != nil {
		return err
	}
	p.IsConstant = serialized.IsConstant
	p.coefficients = make([]curve.Point, len(serialized.Coefficients))
	for i, raw := range serialized.Coefficients {
		c := p.group.NewPoint()
		if err := c.UnmarshalBinary(raw); err != nil {
			return fmt.Errorf("polynomial.Exponent: coefficient %d: %w", i, err)
		}
		p.coefficients[i] = c
	}
	return nil
}
