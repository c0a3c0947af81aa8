package slack

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"slackmatrix/internal/constants"
	"slackmatrix/internal/metrics"
	"slackmatrix/internal/retry"
	"slackmatrix/pkg/slack/types"
)

// State is the Socket Mode connection lifecycle. The transport is
// owned entirely by the socket client; no other component ever holds a
// live connection reference.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	default:
		return "closed"
	}
}

// EventHandler receives decoded events_api callbacks. It must not
// block: acknowledgement has already been sent when it runs, and slow
// handling here would stall the read loop.
type EventHandler func(cb *types.EventCallback)

// URLOpener performs the connections.open handshake.
type URLOpener interface {
	OpenSocketURL(ctx context.Context) (string, error)
}

type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// SocketClient maintains the persistent Socket Mode connection,
// acknowledging event envelopes within the ack deadline and
// reconnecting with jittered backoff on any disconnect. Mapping state
// is persistent, so resumption never needs gateway replay; redelivered
// envelopes are absorbed downstream by the delivery ledger.
type SocketClient struct {
	opener     URLOpener
	handler    EventHandler
	logger     *logrus.Logger
	registry   *metrics.Registry
	ackTimeout time.Duration
	backoff    *retry.Backoff

	// admit gates event intake. When it reports false the envelope is
	// left unacked so the gateway redelivers it later.
	admit func() bool

	state atomic.Int32

	// dial is swappable for tests.
	dial func(ctx context.Context, socketURL string) (wsConn, error)
}

func NewSocketClient(opener URLOpener, handler EventHandler, registry *metrics.Registry, logger *logrus.Logger) *SocketClient {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &SocketClient{
		opener:     opener,
		handler:    handler,
		logger:     logger,
		registry:   registry,
		ackTimeout: constants.DefaultSocketAckTimeoutSec * time.Second,
		backoff: retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: constants.DefaultReconnectInitialMs * time.Millisecond,
			MaxDelay:     constants.DefaultReconnectMaxSec * time.Second,
			Multiplier:   2.0,
			MaxAttempts:  1 << 30,
			Jitter:       true,
		}),
		dial: func(ctx context.Context, socketURL string) (wsConn, error) {
			conn, _, err := websocket.Dial(ctx, socketURL, nil)
			if err != nil {
				return nil, err
			}
			conn.SetReadLimit(1 << 22)
			return conn, nil
		},
	}
}

// State returns the current connection state.
func (s *SocketClient) State() State {
	return State(s.state.Load())
}

// SetAdmission installs the intake gate, typically wired to the
// dispatcher's store availability. Must be called before Run.
func (s *SocketClient) SetAdmission(admit func() bool) {
	s.admit = admit
}

// Run connects and processes envelopes until ctx is cancelled. Every
// disconnect, requested or not, leads to a fresh handshake; the
// attempt counter resets once a connection delivers hello.
func (s *SocketClient) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			s.state.Store(int32(StateClosed))
			return ctx.Err()
		}

		s.state.Store(int32(StateConnecting))
		opened, err := s.connectOnce(ctx)
		if ctx.Err() != nil {
			s.state.Store(int32(StateClosed))
			return ctx.Err()
		}

		if opened {
			attempt = 0
		}
		attempt++
		if err != nil {
			s.logger.WithError(err).Warn("Socket connection ended")
		}
		s.registry.IncrementCounter(metrics.SocketReconnects, nil)

		delay := s.backoff.NextDelay(attempt)
		s.logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Info("Reconnecting to Slack socket")

		select {
		case <-ctx.Done():
			s.state.Store(int32(StateClosed))
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// connectOnce runs one handshake + read loop. It reports whether the
// connection reached the open state before ending.
func (s *SocketClient) connectOnce(ctx context.Context) (bool, error) {
	socketURL, err := s.opener.OpenSocketURL(ctx)
	if err != nil {
		return false, err
	}

	conn, err := s.dial(ctx, socketURL)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "reconnecting")
	}()

	opened := false
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return opened, err
		}

		var envelope types.Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			// One bad frame never takes the connection down.
			s.logger.WithError(err).Warn("Dropping undecodable socket frame")
			continue
		}

		switch envelope.Type {
		case types.EnvelopeHello:
			opened = true
			s.state.Store(int32(StateOpen))
			s.logger.Info("Slack socket connected")

		case types.EnvelopeDisconnect:
			s.state.Store(int32(StateDraining))
			s.logger.WithField("reason", envelope.Reason).Info("Slack requested reconnect")
			return opened, nil

		case types.EnvelopeEventsAPI:
			if s.admit != nil && !s.admit() {
				s.logger.WithField("envelope_id", envelope.EnvelopeID).
					Warn("Intake paused, leaving envelope unacked for redelivery")
				continue
			}
			if err := s.ack(ctx, conn, envelope.EnvelopeID); err != nil {
				return opened, err
			}
			s.dispatch(&envelope)

		default:
			s.logger.WithField("type", envelope.Type).Debug("Ignoring socket envelope")
		}
	}
}

// ack must land within the gateway's deadline or the envelope is
// redelivered.
func (s *SocketClient) ack(ctx context.Context, conn wsConn, envelopeID string) error {
	ackCtx, cancel := context.WithTimeout(ctx, s.ackTimeout)
	defer cancel()

	data, err := json.Marshal(types.Ack{EnvelopeID: envelopeID})
	if err != nil {
		return err
	}
	return conn.Write(ackCtx, websocket.MessageText, data)
}

func (s *SocketClient) dispatch(envelope *types.Envelope) {
	var cb types.EventCallback
	if err := json.Unmarshal(envelope.Payload, &cb); err != nil {
		s.logger.WithError(err).WithField("envelope_id", envelope.EnvelopeID).
			Warn("Dropping undecodable events_api payload")
		return
	}
	s.handler(&cb)
}
