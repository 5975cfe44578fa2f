package refresh

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/taurusgroup/threshold-keys/pkg/keyshare"
	"github.com/taurusgroup/threshold-keys/pkg/protocol"
)

// Run performs the whole round over transport: it broadcasts the local contribution,
// collects the others as they arrive, and finalizes.
//
// Messages for other sessions or protocols, and malformed contributions, are skipped.
// If ctx is done or the transport closes first, the round is aborted and
// ErrIncompleteRound is returned.
func (c *Coordinator) Run(ctx context.Context, transport protocol.Transport) (*keyshare.Config, error) {
	local, err := c.Begin()
	if err != nil {
		return nil, err
	}

	data, err := local.MarshalBinary()
	if err != nil {
		c.Abort()
		return nil, fmt.Errorf("refresh.Run: %w", err)
	}
	msg := &protocol.Message{
		SSID:     c.SSID(),
		From:     local.From,
		Protocol: ProtocolID,
		Data:     data,
	}
	if err = transport.Send(ctx, msg); err != nil {
		c.Abort()
		return nil, fmt.Errorf("refresh.Run: send: %w", err)
	}

	incoming := transport.Receive()
	for !c.Ready() {
		select {
		case <-ctx.Done():
			c.Abort()
			return nil, fmt.Errorf("refresh.Run: %w: %w", ErrIncompleteRound, ctx.Err())
		case msg, ok := <-incoming:
			if !ok {
				c.Abort()
				return nil, fmt.Errorf("refresh.Run: %w: transport closed", ErrIncompleteRound)
			}
			if err = c.handle(msg); err != nil {
				if errors.Is(err, ErrRoundClosed) {
					return nil, err
				}
				c.logger().WithError(err).Warn("skipping message")
			}
		}
	}

	return c.Finalize()
}

// handle decodes msg and passes it to Receive.
func (c *Coordinator) handle(msg *protocol.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	if msg.Protocol != ProtocolID {
		return fmt.Errorf("unexpected protocol %q", msg.Protocol)
	}
	if !bytes.Equal(msg.SSID, c.ssid) {
		return fmt.Errorf("message from %s is for another session", msg.From)
	}
	if !msg.Broadcast() {
		return fmt.Errorf("message from %s is not a broadcast", msg.From)
	}

	contribution := EmptyContribution(c.share.Group)
	if err := contribution.UnmarshalBinary(msg.Data); err != nil {
		return err
	}
	if contribution.From != msg.From {
		return fmt.Errorf("contribution from %s sent by %s", contribution.From, msg.From)
	}
	_, err := c.Receive(contribution)
	return err
}

func (c *Coordinator) logger() logrus.FieldLogger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log
}
