package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/taurusgroup/threshold-keys/pkg/hash"
	"github.com/taurusgroup/threshold-keys/pkg/party"
)

// Message is the envelope exchanged between parties through a Transport.
type Message struct {
	// SSID is a byte string which uniquely identifies the session this message belongs to.
	SSID []byte
	// From is the party.ID of the sender
	From party.ID
	// To is the intended recipient for this message.
	// If To == 0, then the message should be interpreted as a broadcast message.
	To party.ID
	// Protocol identifies the protocol this message belongs to
	Protocol string
	// Data is the actual content consumed by the protocol.
	Data []byte
}

// String implements fmt.Stringer.
func (m Message) String() string {
	return fmt.Sprintf("message: from: %s, to %s, protocol: %s, %d bytes", m.From, m.To, m.Protocol, len(m.Data))
}

// Broadcast returns true if the message should be delivered to all participants in the protocol.
func (m Message) Broadcast() bool {
	return m.To == 0
}

// IsFor returns true if the message is intended for the designated party.
//
// A party's own broadcast is not for itself, even though most transports echo it back.
func (m Message) IsFor(id party.ID) bool {
	if m.From == id {
		return false
	}
	return m.To == 0 || m.To == id
}

// Hash returns a 64 byte slice of the message content, including the headers.
func (m Message) Hash() []byte {
	h := hash.New(
		hash.BytesWithDomain{TheDomain: "SSID", Bytes: m.SSID},
		m.From,
		m.To,
		hash.BytesWithDomain{TheDomain: "Protocol", Bytes: []byte(m.Protocol)},
		hash.BytesWithDomain{TheDomain: "Content", Bytes: m.Data},
	)
	return h.Sum()
}

type messageMarshal struct {
	SSID     []byte
	From     party.ID
	To       party.ID
	Protocol string
	Data     []byte
}

func (m *Message) MarshalBinary() ([]byte, error) {
	return cbor.Marshal(messageMarshal(*m))
}

func (m *Message) UnmarshalBinary(data []byte) error {
	var mm messageMarshal
	if err := cbor.Unmarshal(data, &mm); err != nil {
		return fmt.Errorf("protocol.Message: %w", err)
	}
	if err := mm.From.Validate(); err != nil {
		return fmt.Errorf("protocol.Message: sender: %w", err)
	}
	*m = Message(mm)
	return nil
}
