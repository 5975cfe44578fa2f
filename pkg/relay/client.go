package relay

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/taurusgroup/threshold-keys/pkg/party"
	"github.com/taurusgroup/threshold-keys/pkg/protocol"
)

var (
	// ErrClosed is returned when sending on a closed Client.
	ErrClosed = errors.New("relay: client closed")
	// ErrRoomNotFound is returned when the room does not exist on the server, for instance
	// after it was deleted. The Receive channel is closed once this happens.
	ErrRoomNotFound = errors.New("relay: room not found")
)

const (
	pollWait   = 10 * time.Second
	retryDelay = 500 * time.Millisecond
)

// Client is a protocol.Transport for one party in one room.
type Client struct {
	server string
	room   string
	id     party.ID
	http   *http.Client
	log    logrus.FieldLogger

	incoming chan *protocol.Message
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

var _ protocol.Transport = (*Client)(nil)

// Dial joins room on the relay at server as party id, and starts fetching messages.
// The returned Client must be closed.
func Dial(ctx context.Context, server, room string, id party.ID, log logrus.FieldLogger) (*Client, error) {
	if err := id.Validate(); err != nil {
		return nil, fmt.Errorf("relay.Dial: %w", err)
	}
	if room == "" {
		return nil, errors.New("relay.Dial: empty room")
	}
	c := &Client{
		server:   strings.TrimSuffix(server, "/"),
		room:     room,
		id:       id,
		http:     &http.Client{Timeout: pollWait + 5*time.Second},
		log:      log.WithFields(logrus.Fields{"room": room, "party": id}),
		incoming: make(chan *protocol.Message, 64),
		done:     make(chan struct{}),
	}

	var resp joinResponse
	if err := c.do(ctx, http.MethodPost, c.roomURL("join"), joinRequest{Party: id}, http.StatusOK, &resp); err != nil {
		return nil, fmt.Errorf("relay.Dial: join: %w", err)
	}
	c.log.WithField("parties", resp.Parties.String()).Info("joined room")

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.receiveLoop(loopCtx)
	return c, nil
}

func (c *Client) roomURL(suffix string) string {
	return fmt.Sprintf("%s/rooms/%s/%s", c.server, url.PathEscape(c.room), suffix)
}

// Send implements protocol.Transport.
func (c *Client) Send(ctx context.Context, msg *protocol.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	body, err := msg.MarshalBinary()
	if err != nil {
		return fmt.Errorf("relay.Send: %w", err)
	}
	env := Envelope{From: msg.From, To: msg.To, Body: body}
	var resp postResponse
	if err = c.do(ctx, http.MethodPost, c.roomURL("messages"), env, http.StatusAccepted, &resp); err != nil {
		return fmt.Errorf("relay.Send: %w", err)
	}
	c.log.WithFields(logrus.Fields{
		"to":   msg.To,
		"id":   resp.ID,
		"seq":  resp.Seq,
		"hash": hex.EncodeToString(msg.Hash()),
	}).Debug("message sent")
	return nil
}

// Receive implements protocol.Transport.
func (c *Client) Receive() <-chan *protocol.Message {
	return c.incoming
}

// Close stops fetching messages and closes the Receive channel.
func (c *Client) Close() error {
	c.once.Do(func() {
		c.cancel()
		<-c.done
	})
	return nil
}

func (c *Client) receiveLoop(ctx context.Context) {
	defer close(c.done)
	defer close(c.incoming)

	after := 0
	for {
		envelopes, err := c.fetch(ctx, after)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrRoomNotFound) {
				c.log.WithError(err).Warn("room is gone, stop fetching messages")
				return
			}
			c.log.WithError(err).Warn("fail to fetch messages")
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
			continue
		}
		for _, env := range envelopes {
			after = max(after, env.Seq)
			msg := new(protocol.Message)
			if err = msg.UnmarshalBinary(env.Body); err != nil {
				c.log.WithError(err).WithField("id", env.ID).Warn("skipping malformed message")
				continue
			}
			if msg.From != env.From {
				c.log.WithField("id", env.ID).Warnf("skipping message from %s posted by %s", msg.From, env.From)
				continue
			}
			select {
			case c.incoming <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Client) fetch(ctx context.Context, after int) ([]*Envelope, error) {
	query := url.Values{}
	query.Set("after", fmt.Sprint(after))
	query.Set("wait", pollWait.String())
	query.Set("party", c.id.String())
	var envelopes []*Envelope
	if err := c.do(ctx, http.MethodGet, c.roomURL("messages")+"?"+query.Encode(), nil, http.StatusOK, &envelopes); err != nil {
		return nil, err
	}
	return envelopes, nil
}

// do sends a JSON request and decodes the JSON response, if out is not nil.
func (c *Client) do(ctx context.Context, method, target string, in interface{}, expected int, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("fail to marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("fail to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fail to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrRoomNotFound
	}
	if resp.StatusCode != expected {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("unexpected status %s: %s", resp.Status, e.Error)
	}
	if out == nil {
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("fail to decode response: %w", err)
	}
	return nil
}
