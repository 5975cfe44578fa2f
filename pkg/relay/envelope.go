package relay

import (
	"github.com/taurusgroup/threshold-keys/pkg/party"
)

// Envelope is a message stored in a room.
type Envelope struct {
	// ID is assigned by the server.
	ID string `json:"id,omitempty"`
	// Seq is the position of the message in its room, starting at 1.
	Seq int `json:"seq,omitempty"`
	// From is the sender.
	From party.ID `json:"from"`
	// To is the recipient, or 0 for everyone in the room.
	To party.ID `json:"to,omitempty"`
	// Body is an encoded protocol.Message.
	Body []byte `json:"body"`
}

// visibleTo returns true if id should receive the envelope.
//
// Broadcast messages are also returned to their sender.
func (e *Envelope) visibleTo(id party.ID) bool {
	return id == 0 || e.To == 0 || e.To == id || e.From == id
}

type joinRequest struct {
	Party party.ID `json:"party"`
}

type joinResponse struct {
	Room    string        `json:"room"`
	Parties party.IDSlice `json:"parties"`
}

type postResponse struct {
	ID  string `json:"id"`
	Seq int    `json:"seq"`
}

type errorResponse struct {
	Error string `json:"error"`
}
