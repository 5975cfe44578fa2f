package reshare

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/taurusgroup/threshold-keys/pkg/math/curve"
	"github.com/taurusgroup/threshold-keys/pkg/math/polynomial"
	"github.com/taurusgroup/threshold-keys/pkg/party"
	zksch "github.com/taurusgroup/threshold-keys/pkg/zk/sch"
)

// Payload is the engine specific part of a refresh contribution.
type Payload struct {
	// Commitments = Fᵢ(X) = fᵢ(X)•G
	Commitments *polynomial.Exponent
	// Ephemeral = Eᵢ = eᵢ•G
	Ephemeral curve.Point
	// Proof of knowledge of eᵢ.
	Proof *zksch.Proof
	// Shares maps every other remaining party j to the encryption of fᵢ(j).
	Shares map[party.ID][]byte
}

// EmptyPayload returns a Payload ready to be unmarshalled.
func EmptyPayload(group curve.Curve) *Payload {
	return &Payload{
		Commitments: polynomial.EmptyExponent(group),
		Ephemeral:   group.NewPoint(),
		Proof:       zksch.EmptyProof(group),
	}
}

type payloadMarshal struct {
	Commitments []byte
	Ephemeral   []byte
	Proof       []byte
	Shares      map[party.ID][]byte
}

func (p *Payload) MarshalBinary() ([]byte, error) {
	commitments, err := p.Commitments.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("reshare.Payload: commitments: %w", err)
	}
	ephemeral, err := p.Ephemeral.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("reshare.Payload: ephemeral: %w", err)
	}
	proof, err := p.Proof.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("reshare.Payload: proof: %w", err)
	}
	return cbor.Marshal(&payloadMarshal{
		Commitments: commitments,
		Ephemeral:   ephemeral,
		Proof:       proof,
		Shares:      p.Shares,
	})
}

func (p *Payload) UnmarshalBinary(data []byte) error {
	if p.Commitments == nil || p.Ephemeral == nil || p.Proof == nil {
		return errors.New("reshare.Payload: must be initialized using EmptyPayload")
	}
	if len(data) == 0 {
		return errors.New("reshare.Payload: empty")
	}
	var pm payloadMarshal
	if err := cbor.Unmarshal(data, &pm); err != nil {
		return fmt.Errorf("reshare.Payload: %w", err)
	}
	if err := p.Commitments.UnmarshalBinary(pm.Commitments); err != nil {
		return fmt.Errorf("reshare.Payload: commitments: %w", err)
	}
	if err := p.Ephemeral.UnmarshalBinary(pm.Ephemeral); err != nil {
		return fmt.Errorf("reshare.Payload: ephemeral: %w", err)
	}
	if err := p.Proof.UnmarshalBinary(pm.Proof); err != nil {
		return fmt.Errorf("reshare.Payload: proof: %w", err)
	}
	p.Shares = pm.Shares
	return nil
}
