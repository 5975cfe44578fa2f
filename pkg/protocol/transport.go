package protocol

import "context"

// Transport moves messages between the parties of a session.
//
// Implementations deliver broadcast messages to every party, the sender included.
// Receivers must therefore be ready to see their own messages.
type Transport interface {
	// Send delivers msg, returning once it has been accepted by the transport.
	Send(ctx context.Context, msg *Message) error
	// Receive returns the channel of incoming messages.
	// The channel is closed when the transport shuts down.
	Receive() <-chan *Message
}
