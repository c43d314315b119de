package audio

import (
	"errors"
	"sync"
)

// ErrPromptHalted is returned by PromptWriter.Write after playback has been
// halted by barge-in or an explicit stop.
var ErrPromptHalted = errors.New("prompt playback halted")

// ErrPromptActive is returned by BeginPrompt while another prompt is still
// playing. Outbound audio is serialized; one source writes at a time.
var ErrPromptActive = errors.New("another prompt is already playing")

// BargeIn describes a caller interruption raised while a prompt was
// playing. The orchestrator decides whether to treat it as new input or
// ignore it.
type BargeIn struct {
	PromptID   string
	PositionMs int
	Energy     float64
}

// Options tunes the Multiplexer.
type Options struct {
	// BargeInThreshold is the RMS energy above which inbound audio during
	// an interruptible prompt counts as barge-in.
	BargeInThreshold float64

	// FrameBuffer is the capacity of the inbound/outbound frame channels.
	FrameBuffer int

	// PrerollMs is how much caller audio is retained while forwarding is
	// off, replayed to the recognition consumer when forwarding resumes.
	PrerollMs int
}

// DefaultOptions returns Multiplexer defaults.
func DefaultOptions() Options {
	return Options{
		BargeInThreshold: 0.05,
		FrameBuffer:      256,
		PrerollMs:        500,
	}
}

// prerollOnsetPeak is the peak amplitude below which a frame counts as
// dead air and does not start pre-roll capture.
const prerollOnsetPeak = 0.01

// Multiplexer owns the bidirectional audio stream of one call. Inbound
// caller frames are forwarded to the recognition consumer and the in-band
// DTMF detector concurrently. Outbound prompt audio is serialized through
// a single active PromptWriter, and new caller audio during an
// interruptible prompt halts playback before raising a BargeIn event.
type Multiplexer struct {
	config Config
	opts   Options

	frames   chan []byte
	digits   chan byte
	outbound chan []byte
	bargeIn  chan BargeIn
	detector *DTMFDetector
	preroll  *Buffer

	mu      sync.Mutex
	prompt  *PromptWriter
	closed  bool
	unmuted bool // inbound forwarding to recognition enabled

	// sendMu guards every send against Close closing the channels out
	// from under a concurrent transport or detector goroutine.
	sendMu   sync.RWMutex
	chClosed bool
}

// NewMultiplexer creates a multiplexer for one call leg.
func NewMultiplexer(config Config, opts Options) *Multiplexer {
	if opts.FrameBuffer <= 0 {
		opts.FrameBuffer = DefaultOptions().FrameBuffer
	}
	if opts.BargeInThreshold <= 0 {
		opts.BargeInThreshold = DefaultOptions().BargeInThreshold
	}
	if opts.PrerollMs <= 0 {
		opts.PrerollMs = DefaultOptions().PrerollMs
	}
	m := &Multiplexer{
		config:   config,
		opts:     opts,
		frames:   make(chan []byte, opts.FrameBuffer),
		digits:   make(chan byte, 32),
		outbound: make(chan []byte, opts.FrameBuffer),
		bargeIn:  make(chan BargeIn, 4),
		preroll:  NewBuffer(config, opts.PrerollMs),
		unmuted:  true,
	}
	m.detector = NewDTMFDetector(config, m.pushDigit)
	return m
}

// PushInbound accepts one caller->system PCM frame from the transport.
func (m *Multiplexer) PushInbound(frame []byte) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	prompt := m.prompt
	forward := m.unmuted
	m.mu.Unlock()

	if prompt != nil && prompt.interruptible {
		if energy := CalculateRMSEnergy(frame); energy >= m.opts.BargeInThreshold {
			if prompt.halt() {
				m.sendBargeIn(BargeIn{
					PromptID:   prompt.id,
					PositionMs: prompt.PositionMs(),
					Energy:     energy,
				})
			}
		}
	}

	m.detector.Write(frame)

	if forward {
		cp := make([]byte, len(frame))
		copy(cp, frame)
		m.sendFrame(cp)
		return
	}

	// Forwarding is off (a prompt is playing or no listen round is
	// open). Retain the utterance onset so speech that began before the
	// recognizer attached is not lost; leading dead air is skipped.
	if m.preroll.Len() > 0 || CalculatePeakAmplitude(frame) >= prerollOnsetPeak {
		m.preroll.Write(frame)
	}
}

// PushDigit injects an out-of-band digit (RFC 2833-style signaling from
// transports that strip in-band tones).
func (m *Multiplexer) PushDigit(digit byte) {
	m.pushDigit(digit)
}

func (m *Multiplexer) pushDigit(digit byte) {
	m.sendMu.RLock()
	defer m.sendMu.RUnlock()
	if m.chClosed {
		return
	}
	select {
	case m.digits <- digit:
	default:
	}
}

// sendFrame delivers one frame to the recognition consumer without
// blocking. When the consumer is behind, the oldest frame is dropped so
// fresh audio keeps flowing.
func (m *Multiplexer) sendFrame(frame []byte) {
	m.sendMu.RLock()
	defer m.sendMu.RUnlock()
	if m.chClosed {
		return
	}
	select {
	case m.frames <- frame:
	default:
		select {
		case <-m.frames:
		default:
		}
		select {
		case m.frames <- frame:
		default:
		}
	}
}

func (m *Multiplexer) sendBargeIn(ev BargeIn) {
	m.sendMu.RLock()
	defer m.sendMu.RUnlock()
	if m.chClosed {
		return
	}
	select {
	case m.bargeIn <- ev:
	default:
	}
}

// sendOutbound queues one prompt chunk. Reports false when the
// multiplexer is closed or the transport is not draining.
func (m *Multiplexer) sendOutbound(chunk []byte) bool {
	m.sendMu.RLock()
	defer m.sendMu.RUnlock()
	if m.chClosed {
		return false
	}
	select {
	case m.outbound <- chunk:
		return true
	default:
		return false
	}
}

// Frames returns caller audio for the recognition consumer.
func (m *Multiplexer) Frames() <-chan []byte { return m.frames }

// Digits returns detected DTMF digits.
func (m *Multiplexer) Digits() <-chan byte { return m.digits }

// Outbound returns prompt audio for the transport.
func (m *Multiplexer) Outbound() <-chan []byte { return m.outbound }

// BargeIn returns caller interruption events.
func (m *Multiplexer) BargeIn() <-chan BargeIn { return m.bargeIn }

// SetForwarding enables or disables forwarding of inbound frames to the
// recognition consumer. DTMF detection always stays active. Enabling
// first replays any audio captured while forwarding was off, so an
// interrupting caller's opening words reach the recognizer.
func (m *Multiplexer) SetForwarding(enabled bool) {
	m.mu.Lock()
	m.unmuted = enabled
	m.mu.Unlock()

	if enabled {
		if onset := m.preroll.Take(); len(onset) > 0 {
			m.sendFrame(onset)
		}
	} else {
		m.preroll.Clear()
	}
}

// BeginPrompt starts playback of one prompt. Only one prompt may be
// active; callers must Finish (or be halted) before the next BeginPrompt.
func (m *Multiplexer) BeginPrompt(id string, interruptible bool) (*PromptWriter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrPromptHalted
	}
	if m.prompt != nil && !m.prompt.finished() {
		return nil, ErrPromptActive
	}
	p := &PromptWriter{
		id:            id,
		interruptible: interruptible,
		mux:           m,
	}
	m.prompt = p
	return p, nil
}

// HaltPlayback stops the active prompt, if any. Used on teardown and when
// the orchestrator cuts a prompt short for reasons other than barge-in.
func (m *Multiplexer) HaltPlayback() {
	m.mu.Lock()
	prompt := m.prompt
	m.mu.Unlock()
	if prompt != nil {
		prompt.halt()
	}
}

// Close releases the multiplexer. Pending channels are closed so
// consumers drain and exit.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	prompt := m.prompt
	m.mu.Unlock()

	if prompt != nil {
		prompt.halt()
	}

	// Channels close under sendMu so a concurrent push observes either
	// an open channel or chClosed, never a closed send.
	m.sendMu.Lock()
	m.chClosed = true
	close(m.frames)
	close(m.digits)
	close(m.outbound)
	close(m.bargeIn)
	m.sendMu.Unlock()
}

func (m *Multiplexer) clearPrompt(p *PromptWriter) {
	m.mu.Lock()
	if m.prompt == p {
		m.prompt = nil
	}
	m.mu.Unlock()
}

// PromptWriter streams one prompt's audio to the caller. It is the only
// writer to the outbound stream while active.
type PromptWriter struct {
	id            string
	interruptible bool
	mux           *Multiplexer

	mu      sync.Mutex
	written int
	halted  bool
	done    bool
}

// ID returns the prompt identifier.
func (p *PromptWriter) ID() string { return p.id }

// Write queues one chunk of prompt audio. Returns ErrPromptHalted once
// playback has been interrupted.
func (p *PromptWriter) Write(chunk []byte) error {
	p.mu.Lock()
	if p.halted || p.done {
		p.mu.Unlock()
		return ErrPromptHalted
	}
	p.written += len(chunk)
	p.mu.Unlock()

	cp := make([]byte, len(chunk))
	copy(cp, chunk)

	if !p.mux.sendOutbound(cp) {
		// Closed, or the transport is not draining; treat as halted
		// rather than block the session goroutine.
		p.halt()
		return ErrPromptHalted
	}
	return nil
}

// Finish marks the prompt complete and releases the outbound stream.
func (p *PromptWriter) Finish() {
	p.mu.Lock()
	p.done = true
	p.mu.Unlock()
	p.mux.clearPrompt(p)
}

// Halted reports whether playback was interrupted.
func (p *PromptWriter) Halted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted
}

// PositionMs returns how much prompt audio has been queued, in
// milliseconds.
func (p *PromptWriter) PositionMs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mux.config.DurationMs(p.written)
}

// halt stops playback. Returns true on the first call only.
func (p *PromptWriter) halt() bool {
	p.mu.Lock()
	if p.halted || p.done {
		p.mu.Unlock()
		return false
	}
	p.halted = true
	p.mu.Unlock()
	p.mux.clearPrompt(p)
	return true
}

func (p *PromptWriter) finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted || p.done
}
