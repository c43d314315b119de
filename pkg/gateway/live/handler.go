// Package live terminates the /v1/call websocket: one connection per call
// leg, raw PCM16LE audio in both directions, JSON frames for signaling
// and session events.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/voxbridge/voxbridge/pkg/core/audio"
	"github.com/voxbridge/voxbridge/pkg/core/flow"
	"github.com/voxbridge/voxbridge/pkg/core/session"
	"github.com/voxbridge/voxbridge/pkg/core/txn"
	"github.com/voxbridge/voxbridge/pkg/gateway/audit"
	"github.com/voxbridge/voxbridge/pkg/gateway/config"
	"github.com/voxbridge/voxbridge/pkg/gateway/live/protocol"
	"github.com/voxbridge/voxbridge/pkg/gateway/metrics"
)

// Deps carries the shared services every call handler needs. Flow and
// Bridge are shared across calls; per-call state lives in the session.
type Deps struct {
	Config    config.Config
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Audit     audit.Sink
	Registry  *session.Registry
	Flow      flow.Adapter
	Bridge    *txn.Bridge
	Providers session.Providers
}

// Handler upgrades /v1/call requests and runs one call leg per socket.
type Handler struct {
	deps     Deps
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		deps:   deps,
		logger: logger,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: deps.Config.HandshakeTimeout,
			// Caller legs are trusted transports (SBC, media gateway),
			// not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &callConn{
		deps:     h.deps,
		logger:   h.logger,
		conn:     conn,
		priority: make(chan outboundFrame, 64),
		normal:   make(chan outboundFrame, 256),
		events:   make(chan session.Event, 256),
	}
	c.run(r.Context())
}

// callConn is the per-connection state of one live call leg.
type callConn struct {
	deps   Deps
	logger *slog.Logger
	conn   *websocket.Conn

	priority chan outboundFrame
	normal   chan outboundFrame
	events   chan session.Event

	mux *audio.Multiplexer

	// sendMu guards priority against sends after close; the read loop and
	// registry notifications outlive the pump that closes it.
	sendMu     sync.RWMutex
	sendClosed bool

	// promptGen increments on every barge-in; prompt audio queued under an
	// older generation is dropped by the writer instead of written.
	promptGen atomic.Uint64
}

func (c *callConn) run(parent context.Context) {
	cfg := c.deps.Config

	readLimit := cfg.MaxJSONMessageBytes
	if int64(cfg.MaxAudioFrameBytes) > readLimit {
		readLimit = int64(cfg.MaxAudioFrameBytes)
	}
	c.conn.SetReadLimit(readLimit)

	start, err := c.handshake()
	if err != nil {
		c.rejectAndClose(err)
		return
	}

	c.mux = audio.NewMultiplexer(
		audio.Config{SampleRate: start.SampleRateHz, Channels: 1, BitsPerSample: 16},
		audio.Options{BargeInThreshold: cfg.BargeInThreshold},
	)

	sess, err := session.New(session.Options{
		CallerID: start.CallerID,
		Config: session.Config{
			SilenceTimeout:      cfg.SilenceTimeout,
			InterDigitTimeout:   cfg.InterDigitTimeout,
			MinIntentConfidence: cfg.MinIntentConfidence,
			MaxFallbackRetries:  cfg.MaxFallbackRetries,
			TransactionDeadline: cfg.TransactionDeadline,
			SampleRate:          start.SampleRateHz,
			Language:            cfg.Language,
			Voice:               cfg.Voice,
		},
		Mux:       c.mux,
		Flow:      c.deps.Flow,
		Bridge:    c.deps.Bridge,
		Providers: c.deps.Providers,
		Handler:   c.onEvent,
		Logger:    c.logger,
	})
	if err != nil {
		c.rejectAndClose(err)
		return
	}

	logger := c.logger.With("session_id", sess.ID(), "caller_id", start.CallerID)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	unregister := c.deps.Registry.Register(sess.ID(), session.Handle{
		Cancel: cancel,
		Notify: func(code, message string) error {
			c.enqueueJSON(protocol.NewServerError(code, message, false))
			return nil
		},
	})
	defer unregister()

	c.enqueueJSON(protocol.NewCallAccepted(sess.ID(), start.SampleRateHz))
	c.deps.Metrics.RecordSessionStart()

	writer := &outboundWriter{
		ws:           c.conn,
		ctx:          ctx,
		pingInterval: cfg.WSPingInterval,
		writeTimeout: cfg.WSWriteTimeout,
		priority:     c.priority,
		normal:       c.normal,
		isStale:      func(gen uint64) bool { return gen < c.promptGen.Load() },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(writer.Run)

	g.Go(func() error {
		c.readLoop(gctx)
		cancel()
		return nil
	})

	g.Go(func() error {
		summary, runErr := sess.Run(gctx)
		if runErr != nil {
			logger.Warn("session ended with error", "error", runErr)
		}
		close(c.events)
		c.mux.Close()
		c.deps.Metrics.RecordSessionEnd(summary.Reason, summary.EndedAt.Sub(summary.StartedAt))
		if c.deps.Audit != nil {
			if err := c.deps.Audit.Record(context.WithoutCancel(gctx), summary); err != nil {
				logger.Warn("audit record failed", "error", err)
			}
		}
		logger.Info("call ended",
			"reason", summary.Reason,
			"final_node", summary.FinalNode,
			"turns", len(summary.Turns),
		)
		return nil
	})

	// Pumps translate mux audio and session events into writer frames.
	// Once all three drain, the writer channels close and the writer
	// flushes out.
	g.Go(func() error {
		pumps := new(errgroup.Group)
		pumps.Go(func() error { c.pumpAudio(); return nil })
		pumps.Go(func() error { c.pumpEvents(sess.ID()); return nil })
		_ = pumps.Wait()
		c.sendMu.Lock()
		c.sendClosed = true
		close(c.priority)
		c.sendMu.Unlock()
		close(c.normal)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Debug("connection closed", "error", err)
	}
	_ = c.conn.Close()
}

// handshake reads the first frame, which must be call.start.
func (c *callConn) handshake() (protocol.CallStart, error) {
	timeout := c.deps.Config.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))

	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		return protocol.CallStart{}, &protocol.DecodeError{Code: "bad_request", Message: "expected call.start"}
	}
	if messageType != websocket.TextMessage {
		return protocol.CallStart{}, &protocol.DecodeError{Code: "bad_request", Message: "first frame must be call.start"}
	}
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		return protocol.CallStart{}, err
	}
	start, ok := msg.(protocol.CallStart)
	if !ok {
		return protocol.CallStart{}, &protocol.DecodeError{Code: "bad_request", Message: "first frame must be call.start"}
	}
	return start, nil
}

// rejectAndClose reports a handshake failure straight on the socket; the
// writer goroutine is not running yet.
func (c *callConn) rejectAndClose(err error) {
	code := "bad_request"
	if de, ok := err.(*protocol.DecodeError); ok {
		code = de.Code
	}
	payload, merr := json.Marshal(protocol.NewServerError(code, err.Error(), true))
	if merr == nil {
		timeout := c.deps.Config.WSWriteTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
		_ = c.conn.WriteMessage(websocket.TextMessage, payload)
	}
	_ = c.conn.Close()
}

// readLoop pumps inbound frames into the multiplexer until the socket
// fails or the context ends.
func (c *callConn) readLoop(ctx context.Context) {
	cfg := c.deps.Config

	idleTimeout := 2 * cfg.WSPingInterval
	if idleTimeout <= 0 {
		idleTimeout = 60 * time.Second
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			// Transport drop is a hangup.
			c.mux.Close()
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if len(data) > cfg.MaxAudioFrameBytes {
				c.enqueueJSON(protocol.NewServerError("frame_too_large", "audio frame exceeds limit", false))
				continue
			}
			c.mux.PushInbound(data)
			c.deps.Metrics.RecordAudio("in", len(data))

		case websocket.TextMessage:
			msg, err := protocol.DecodeClientMessage(data)
			if err != nil {
				code := "bad_request"
				if de, ok := err.(*protocol.DecodeError); ok {
					code = de.Code
				}
				c.enqueueJSON(protocol.NewServerError(code, err.Error(), false))
				continue
			}
			switch m := msg.(type) {
			case protocol.DTMF:
				c.mux.PushDigit(m.Digit[0])
			case protocol.CallEnd:
				c.mux.Close()
				return
			case protocol.CallStart:
				c.enqueueJSON(protocol.NewServerError("bad_request", "call already started", false))
			}
		}
	}
}

// onEvent is the session's event callback. It runs on the session
// goroutine and must not block.
func (c *callConn) onEvent(ev session.Event) {
	// Bump the prompt generation before the session can queue the next
	// prompt's audio, so the writer drops everything from the interrupted
	// one.
	if pi, ok := ev.(*session.PromptInterruptedEvent); ok {
		c.promptGen.Add(1)
		c.enqueueJSON(protocol.NewAudioReset("barge_in", pi.PromptID))
	}
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("event queue full, dropping", "event", ev.EventType())
	}
}

// pumpAudio moves prompt audio from the multiplexer to the writer's
// normal lane.
func (c *callConn) pumpAudio() {
	for chunk := range c.mux.Outbound() {
		frame := outboundFrame{
			binaryPayload: chunk,
			promptGen:     c.promptGen.Load(),
			isAudio:       true,
		}
		select {
		case c.normal <- frame:
			c.deps.Metrics.RecordAudio("out", len(chunk))
		default:
			// Writer is behind; dropping prompt audio is preferable to
			// stalling the session goroutine.
		}
	}
}

// pumpEvents serializes session events onto the priority lane and feeds
// the metrics that are derived from them.
func (c *callConn) pumpEvents(sessionID string) {
	txnStarts := make(map[string]time.Time)

	for ev := range c.events {
		switch e := ev.(type) {
		case *session.TurnRecordedEvent:
			c.deps.Metrics.RecordTurn(string(e.Turn.Kind))
		case *session.PromptInterruptedEvent:
			c.deps.Metrics.RecordBargeIn()
		case *session.TransactionStartedEvent:
			txnStarts[e.IdempotencyKey] = time.Now()
		case *session.TransactionSettledEvent:
			started, ok := txnStarts[e.IdempotencyKey]
			if !ok {
				started = time.Now()
			}
			delete(txnStarts, e.IdempotencyKey)
			c.deps.Metrics.RecordTransaction(e.Operation, e.Status, time.Since(started))
		case *session.FallbackEvent:
			c.deps.Metrics.RecordFallback(e.Reason, e.Action)
		case *session.ErrorEvent:
			c.deps.Metrics.RecordError(e.Code)
		}
		c.enqueueJSON(encodeEvent(sessionID, ev))
	}
}

// enqueueJSON marshals v onto the priority lane, dropping on overflow.
func (c *callConn) enqueueJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("marshal outbound frame", "error", err)
		return
	}
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.sendClosed {
		return
	}
	select {
	case c.priority <- outboundFrame{textPayload: payload}:
	default:
		c.logger.Warn("priority queue full, dropping frame")
	}
}

// encodeEvent flattens a session event into the wire event frame.
func encodeEvent(sessionID string, ev session.Event) protocol.Event {
	out := protocol.Event{Type: "event", Event: ev.EventType(), SessionID: sessionID}

	switch e := ev.(type) {
	case *session.CreatedEvent:
		out.NodeID = e.NodeID
	case *session.StateChangedEvent:
		out.From = string(e.From)
		out.To = string(e.To)
	case *session.TurnRecordedEvent:
		out.TurnIndex = e.Turn.Index
		out.TurnKind = string(e.Turn.Kind)
		out.NodeID = e.Turn.NodeID
		out.Text = e.Turn.Text
		out.Intent = e.Turn.Intent
		out.Confidence = e.Turn.Confidence
	case *session.PromptStartedEvent:
		out.PromptID = e.PromptID
		out.NodeID = e.NodeID
		out.Text = e.Text
	case *session.PromptInterruptedEvent:
		out.PromptID = e.PromptID
		out.PositionMS = int64(e.PositionMs)
	case *session.TransactionStartedEvent:
		out.Operation = e.Operation
	case *session.TransactionSettledEvent:
		out.Operation = e.Operation
		out.Status = e.Status
		out.Reason = e.Reason
	case *session.FallbackEvent:
		out.Reason = e.Reason
		out.Action = e.Action
		out.Retry = e.Retry
	case *session.ClosedEvent:
		out.Reason = e.Reason
		out.NodeID = e.Summary.FinalNode
	case *session.ErrorEvent:
		out.Reason = e.Code
		out.Text = e.Message
	}
	return out
}
