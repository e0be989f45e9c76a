package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"liveclass-service/internal/domain"
	"liveclass-service/internal/reconciler"
	transport "liveclass-service/internal/transport/http"
)

// FeedClient opens websocket subscriptions to the change feed.
type FeedClient struct {
	url         string
	session     *Session
	idleTimeout time.Duration
	dialer      *websocket.Dialer
	log         zerolog.Logger
}

// NewFeedClient targets feedURL (e.g. ws://localhost:8080/ws). A subscription
// reports a timeout when nothing, pings included, arrives for idleTimeout.
func NewFeedClient(feedURL string, session *Session, idleTimeout time.Duration, log zerolog.Logger) *FeedClient {
	if idleTimeout <= 0 {
		idleTimeout = time.Minute
	}
	return &FeedClient{
		url:         feedURL,
		session:     session,
		idleTimeout: idleTimeout,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		log: log.With().Str("component", "feed_client").Logger(),
	}
}

// Subscribe dials the feed for studentID. The first message is an ack once
// the server has registered the subscription.
func (c *FeedClient) Subscribe(ctx context.Context, studentID string) (reconciler.Subscription, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	q := u.Query()
	q.Set("studentId", studentID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if c.session != nil {
		if token := c.session.Token(); token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial feed: %w", err)
	}

	sub := &feedSubscription{
		conn:     conn,
		idle:     c.idleTimeout,
		messages: make(chan domain.FeedMessage, 16),
		done:     make(chan struct{}),
		log:      c.log.With().Str("student_id", studentID).Logger(),
	}
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(sub.idle))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	go sub.run()
	return sub, nil
}

type feedSubscription struct {
	conn     *websocket.Conn
	idle     time.Duration
	messages chan domain.FeedMessage
	done     chan struct{}
	once     sync.Once
	log      zerolog.Logger
}

func (s *feedSubscription) Messages() <-chan domain.FeedMessage {
	return s.messages
}

// Close sends a close frame and drops the connection. Messages is closed
// once the reader has stopped.
func (s *feedSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

func (s *feedSubscription) run() {
	defer close(s.messages)
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.idle))
		var env transport.Envelope[json.RawMessage]
		if err := s.conn.ReadJSON(&env); err != nil {
			s.emit(s.classify(err))
			return
		}

		switch env.Type {
		case transport.MessageSubscribed:
			s.emit(domain.FeedMessage{Kind: domain.FeedAck})
		case transport.MessageInsert, transport.MessageUpdate:
			var payload transport.ChangePayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				s.log.Warn().Err(err).Str("type", env.Type).Msg("Malformed change payload")
				continue
			}
			kind := domain.ChangeInsert
			if env.Type == transport.MessageUpdate {
				kind = domain.ChangeUpdate
			}
			s.emit(domain.FeedMessage{Kind: domain.FeedChange, Change: &domain.ChangeEvent{
				Kind:      kind,
				StudentID: payload.New.StudentID,
				Old:       payload.Old,
				New:       payload.New,
			}})
		case transport.MessageError:
			var payload struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(env.Payload, &payload)
			s.emit(domain.FeedMessage{Kind: domain.FeedError, Err: fmt.Errorf("feed error: %s", payload.Message)})
			return
		default:
			s.log.Debug().Str("type", env.Type).Msg("Ignoring unknown feed message")
		}
	}
}

func (s *feedSubscription) emit(msg domain.FeedMessage) {
	select {
	case s.messages <- msg:
	case <-s.done:
	}
}

func (s *feedSubscription) classify(err error) domain.FeedMessage {
	select {
	case <-s.done:
		return domain.FeedMessage{Kind: domain.FeedClosed}
	default:
	}
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return domain.FeedMessage{Kind: domain.FeedTimeout, Err: err}
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway),
		errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return domain.FeedMessage{Kind: domain.FeedClosed, Err: err}
	default:
		return domain.FeedMessage{Kind: domain.FeedError, Err: err}
	}
}
