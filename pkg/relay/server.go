// Package relay is a small HTTP rendezvous service through which parties exchange
// protocol messages, and a client implementing protocol.Transport on top of it.
//
// Parties meet in a named room. Every message posted to a room is kept until the room
// is deleted, and parties fetch the messages they have not seen yet by long polling.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/taurusgroup/threshold-keys/pkg/party"
)

// MaxWait bounds the time a GET on a room's messages blocks.
const MaxWait = 30 * time.Second

type room struct {
	parties  party.IDSlice
	messages []*Envelope
	// notify is closed and replaced when a message is posted.
	notify chan struct{}
}

func newRoom() *room {
	return &room{
		parties: party.IDSlice{},
		notify:  make(chan struct{}),
	}
}

// since returns the messages after seq visible to id.
func (r *room) since(seq int, id party.ID) []*Envelope {
	out := make([]*Envelope, 0)
	if seq < 0 {
		seq = 0
	}
	for _, e := range r.messages[min(seq, len(r.messages)):] {
		if e.visibleTo(id) {
			out = append(out, e)
		}
	}
	return out
}

// Server keeps rooms in memory.
type Server struct {
	e   *echo.Echo
	log logrus.FieldLogger

	mtx   sync.Mutex
	rooms map[string]*room
}

// NewServer returns a Server logging to log.
func NewServer(log logrus.FieldLogger) *Server {
	s := &Server{
		log:   log.WithField("service", "relay"),
		rooms: make(map[string]*room),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("2M"))
	e.Use(s.logMiddleware)
	e.HTTPErrorHandler = s.errorHandler

	e.GET("/ping", s.Ping)
	grp := e.Group("/rooms")
	grp.POST("/:room/join", s.Join)
	grp.POST("/:room/messages", s.PostMessage)
	grp.GET("/:room/messages", s.GetMessages)
	grp.DELETE("/:room", s.DeleteRoom)

	s.e = e
	return s
}

// Handler returns the http.Handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.e
}

// Start listens on address until Shutdown is called.
func (s *Server) Start(address string) error {
	s.log.WithField("address", address).Info("relay listening")
	if err := s.e.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay.Start: %w", err)
	}
	return nil
}

// Shutdown stops the server, waiting for open requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

func (s *Server) logMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.log.WithFields(logrus.Fields{
			"method":   c.Request().Method,
			"path":     c.Path(),
			"room":     c.Param("room"),
			"status":   c.Response().Status,
			"duration": time.Since(start),
		}).Debug("request")
		return err
	}
}

func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	message := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		message = fmt.Sprint(he.Message)
	}
	if c.Response().Committed {
		return
	}
	if err = c.JSON(code, errorResponse{Error: message}); err != nil {
		s.log.WithError(err).Error("fail to write error response")
	}
}

// errRoomNotFound is returned for requests on a room which nobody joined, or which was deleted.
var errRoomNotFound = echo.NewHTTPError(http.StatusNotFound, "no such room")

// roomLocked returns the room named id, creating it if needed.
// Only joining a room creates it.
func (s *Server) roomLocked(id string) *room {
	r, ok := s.rooms[id]
	if !ok {
		r = newRoom()
		s.rooms[id] = r
	}
	return r
}

func (s *Server) Ping(c echo.Context) error {
	return c.String(http.StatusOK, "relay is running")
}

// Join registers a party in a room, and returns the parties which joined so far.
func (s *Server) Join(c echo.Context) error {
	var req joinRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("fail to parse request: %v", err))
	}
	if err := req.Party.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id := c.Param("room")

	s.mtx.Lock()
	r := s.roomLocked(id)
	if !r.parties.Contains(req.Party) {
		r.parties = party.NewIDSlice(append(r.parties, req.Party))
	}
	parties := r.parties.Copy()
	s.mtx.Unlock()

	s.log.WithFields(logrus.Fields{"room": id, "party": req.Party}).Info("party joined")
	return c.JSON(http.StatusOK, joinResponse{Room: id, Parties: parties})
}

// PostMessage appends a message to a joined room and wakes up pending readers.
func (s *Server) PostMessage(c echo.Context) error {
	var env Envelope
	if err := c.Bind(&env); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("fail to parse message: %v", err))
	}
	if err := env.From.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(env.Body) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "body is empty")
	}

	s.mtx.Lock()
	r, ok := s.rooms[c.Param("room")]
	if !ok {
		s.mtx.Unlock()
		return errRoomNotFound
	}
	env.ID = uuid.NewString()
	env.Seq = len(r.messages) + 1
	r.messages = append(r.messages, &env)
	close(r.notify)
	r.notify = make(chan struct{})
	s.mtx.Unlock()

	return c.JSON(http.StatusAccepted, postResponse{ID: env.ID, Seq: env.Seq})
}

// GetMessages returns the messages of a room with a sequence number greater than the
// after query parameter. If there are none, it waits for one for at most the wait duration,
// or until the room is deleted.
// The party query parameter filters out messages addressed to other parties.
func (s *Server) GetMessages(c echo.Context) error {
	after, wait, id, err := parseQuery(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	roomID := c.Param("room")

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		s.mtx.Lock()
		r, ok := s.rooms[roomID]
		if !ok {
			s.mtx.Unlock()
			return errRoomNotFound
		}
		out := r.since(after, id)
		notify := r.notify
		s.mtx.Unlock()

		if len(out) > 0 || wait == 0 {
			return c.JSON(http.StatusOK, out)
		}
		select {
		case <-notify:
		case <-timer.C:
			return c.JSON(http.StatusOK, out)
		case <-c.Request().Context().Done():
			return c.NoContent(http.StatusNoContent)
		}
	}
}

func parseQuery(c echo.Context) (after int, wait time.Duration, id party.ID, err error) {
	if v := c.QueryParam("after"); v != "" {
		if after, err = strconv.Atoi(v); err != nil {
			return 0, 0, 0, fmt.Errorf("after: %w", err)
		}
	}
	if v := c.QueryParam("wait"); v != "" {
		if wait, err = time.ParseDuration(v); err != nil {
			return 0, 0, 0, fmt.Errorf("wait: %w", err)
		}
		wait = min(max(wait, 0), MaxWait)
	}
	if v := c.QueryParam("party"); v != "" {
		if id, err = party.FromString(v); err != nil {
			return 0, 0, 0, fmt.Errorf("party: %w", err)
		}
	}
	return after, wait, id, nil
}

// DeleteRoom drops a room and its messages.
func (s *Server) DeleteRoom(c echo.Context) error {
	id := c.Param("room")
	s.mtx.Lock()
	r, ok := s.rooms[id]
	if ok {
		delete(s.rooms, id)
		close(r.notify)
	}
	s.mtx.Unlock()
	if !ok {
		return errRoomNotFound
	}
	s.log.WithField("room", id).Info("room deleted")
	return c.NoContent(http.StatusNoContent)
}
