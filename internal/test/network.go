package test

import (
	"context"
	"errors"
	"sync"

	"github.com/taurusgroup/threshold-keys/pkg/party"
	"github.com/taurusgroup/threshold-keys/pkg/protocol"
)

// ErrNetworkClosed is returned when sending on a closed Network.
var ErrNetworkClosed = errors.New("test: network closed")

// Network is an in-memory transport between parties.
//
// Like a broadcast room, it delivers every broadcast message to every party,
// the sender included.
type Network struct {
	parties        party.IDSlice
	listenChannels map[party.ID]chan *protocol.Message
	// Intercept, if set, is called on every message before delivery.
	// Returning nil drops the message.
	Intercept func(msg *protocol.Message) *protocol.Message
	mtx       sync.Mutex
}

// NewNetwork returns a Network between parties.
func NewNetwork(parties party.IDSlice) *Network {
	n := &Network{
		parties:        parties,
		listenChannels: make(map[party.ID]chan *protocol.Message, len(parties)),
	}
	N := len(parties)
	for _, id := range parties {
		n.listenChannels[id] = make(chan *protocol.Message, 4*N*N)
	}
	return n
}

// Endpoint returns the Transport used by party id.
func (n *Network) Endpoint(id party.ID) protocol.Transport {
	return &endpoint{network: n, id: id}
}

func (n *Network) send(ctx context.Context, msg *protocol.Message) error {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if n.Intercept != nil {
		if msg = n.Intercept(msg); msg == nil {
			return nil
		}
	}
	for _, id := range n.parties {
		c, ok := n.listenChannels[id]
		if !ok {
			continue
		}
		if !msg.Broadcast() && !msg.IsFor(id) {
			continue
		}
		select {
		case c <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (n *Network) next(id party.ID) <-chan *protocol.Message {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	c, ok := n.listenChannels[id]
	if !ok {
		closed := make(chan *protocol.Message)
		close(closed)
		return closed
	}
	return c
}

// Done closes the channel of party id.
func (n *Network) Done(id party.ID) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if c, ok := n.listenChannels[id]; ok {
		close(c)
		delete(n.listenChannels, id)
	}
}

type endpoint struct {
	network *Network
	id      party.ID
}

func (e *endpoint) Send(ctx context.Context, msg *protocol.Message) error {
	if msg.From != e.id {
		return errors.New("test: sending on behalf of another party")
	}
	return e.network.send(ctx, msg)
}

func (e *endpoint) Receive() <-chan *protocol.Message {
	return e.network.next(e.id)
}
