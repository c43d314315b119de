// Package session implements the conversational session orchestrator: one
// goroutine task per call that owns the session state machine, merges
// DTMF and speech input, drives the legacy flow cursor, and brokers
// backend transactions exactly once.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxbridge/voxbridge/pkg/core"
	"github.com/voxbridge/voxbridge/pkg/core/audio"
	"github.com/voxbridge/voxbridge/pkg/core/flow"
	"github.com/voxbridge/voxbridge/pkg/core/speech"
	"github.com/voxbridge/voxbridge/pkg/core/txn"
)

// Providers bundles the conversational services one session consumes.
// Recognizer and Classifier may be nil; the session then runs DTMF-only.
type Providers struct {
	Recognizer  speech.Recognizer
	Classifier  speech.Classifier
	Synthesizer speech.Synthesizer
}

// Options configures one session.
type Options struct {
	ID        string // generated when empty
	CallerID  string
	Config    Config
	Mux       *audio.Multiplexer
	Flow      flow.Adapter
	Bridge    *txn.Bridge
	Providers Providers
	Handler   Handler
	Logger    *slog.Logger
}

// Session is one live call. Run drives it to completion; all other
// methods are safe to call concurrently.
type Session struct {
	id       string
	callerID string
	cfg      Config

	mux       *audio.Multiplexer
	flow      flow.Adapter
	bridge    *txn.Bridge
	providers Providers
	handler   Handler
	logger    *slog.Logger

	transcript Transcript

	mu        sync.Mutex
	state     State
	startedAt time.Time
	endedAt   time.Time
	endReason string
	finalNode string

	// speechDegraded is set when the fallback controller decides to stop
	// retrying speech for this call.
	speechDegraded bool
}

// New creates a session. Mux, Flow and Bridge are required.
func New(opts Options) (*Session, error) {
	if opts.Mux == nil {
		return nil, fmt.Errorf("session: mux is required")
	}
	if opts.Flow == nil {
		return nil, fmt.Errorf("session: flow adapter is required")
	}
	if opts.Bridge == nil {
		return nil, fmt.Errorf("session: transaction bridge is required")
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:        id,
		callerID:  opts.CallerID,
		cfg:       opts.Config.withDefaults(),
		mux:       opts.Mux,
		flow:      opts.Flow,
		bridge:    opts.Bridge,
		providers: opts.Providers,
		handler:   opts.Handler,
		logger:    logger.With("session_id", id),
		state:     StateCreated,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current orchestrator state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns the session's turn record.
func (s *Session) Transcript() *Transcript { return &s.transcript }

// Summary builds the session record. Meaningful once Run has returned.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		SessionID: s.id,
		CallerID:  s.callerID,
		StartedAt: s.startedAt,
		EndedAt:   s.endedAt,
		Reason:    s.endReason,
		FinalNode: s.finalNode,
		Turns:     s.transcript.Turns(),
	}
}

// Run executes the session to termination. Cancelling ctx is an external
// hangup: the session still confirms the final status of any in-flight
// transaction before it reports Terminated.
func (s *Session) Run(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	cur, err := s.flow.Start(s.id)
	if err != nil {
		return s.terminate("flow_error"), err
	}
	defer s.flow.End(s.id)

	s.emit(&CreatedEvent{
		SessionID:  s.id,
		CallerID:   s.callerID,
		NodeID:     cur.NodeID,
		SampleRate: s.cfg.SampleRate,
	})
	s.logger.Info("session started", "node", cur.NodeID, "caller_id", s.callerID)
	s.setState(StateResponding)

	retries := 0
	promptPrefix := ""
	var lastResult map[string]string

	for {
		text := promptPrefix + expandPrompt(cur.Prompt, lastResult)
		promptPrefix = ""
		if err := s.playPrompt(ctx, cur, text); err != nil {
			return s.terminate("hangup"), nil
		}

		if cur.Terminal {
			reason := cur.TerminationReason
			if reason == "" {
				reason = "completed"
			}
			return s.terminate(reason), nil
		}

		s.setState(StateListening)
		cand, lerr := s.listen(ctx, cur)

		if lerr == nil {
			s.setState(StateResolving)
			var in flow.Input
			in, lerr = arbitrate(cur, cand, s.cfg.MinIntentConfidence)
			s.recordInput(cur, cand)

			if lerr == nil {
				var res flow.Resolution
				res, lerr = s.flow.Resolve(s.id, in)

				if lerr == nil && res.RequiresTransaction() {
					out, done, terr := s.execute(ctx, res)
					if done {
						// Hangup arrived mid-transaction; the outcome is
						// settled, now the session may end.
						return s.terminate("hangup"), nil
					}
					lerr = terr
					if terr == nil {
						lastResult = out.Result
					}
				}

				if lerr == nil {
					next, aerr := s.flow.Advance(s.id, in)
					if aerr != nil {
						lerr = aerr
					} else {
						cur = next
						retries = 0
						s.setState(StateResponding)
						continue
					}
				}
			}
		}

		if core.IsType(lerr, core.ErrCallTerminated) {
			return s.terminate("hangup"), nil
		}

		// Every remaining failure routes through the fallback controller.
		s.setState(StateFallback)
		errType := core.TypeOf(lerr)
		decision := FallbackController{MaxRetries: s.cfg.MaxFallbackRetries}.
			Decide(errType, retries, cur.DeterministicOnly)
		s.emit(&FallbackEvent{
			Reason: string(errType),
			Action: string(decision.Action),
			Retry:  retries,
		})
		s.logger.Info("fallback engaged",
			"reason", errType, "action", decision.Action, "retry", retries)
		retries++

		switch decision.Action {
		case ActionTransferAgent:
			s.setState(StateResponding)
			s.speakTransfer(ctx, decision.Prompt)
			return s.terminate("transfer"), nil
		case ActionDegradeDTMF:
			s.mu.Lock()
			s.speechDegraded = true
			s.mu.Unlock()
			fallthrough
		default:
			s.setState(StateResponding)
			promptPrefix = decision.Prompt
		}
	}
}

// execute runs one backend transaction. The bridge gets a context
// detached from the call so a hangup cannot abandon a side effect in an
// unknown state; done reports that such a hangup occurred.
func (s *Session) execute(ctx context.Context, res flow.Resolution) (txn.Outcome, bool, error) {
	s.setState(StateAwaitingTransaction)

	stepIndex := s.transcript.Len()
	d := txn.NewDescriptor(s.id, stepIndex, res.Operation, res.Params)
	s.emit(&TransactionStartedEvent{
		Operation:      d.Operation,
		IdempotencyKey: d.IdempotencyKey,
		StepIndex:      stepIndex,
	})

	out, err := s.bridge.Execute(context.WithoutCancel(ctx), d)
	s.emit(&TransactionSettledEvent{
		Operation:      d.Operation,
		IdempotencyKey: d.IdempotencyKey,
		Status:         string(out.Status),
		Reason:         out.Reason,
	})
	s.logger.Info("transaction settled",
		"operation", d.Operation, "key", d.IdempotencyKey,
		"status", out.Status, "reason", out.Reason)

	if ctx.Err() != nil {
		return out, true, err
	}
	return out, false, err
}

// playPrompt synthesizes and streams one prompt, honoring barge-in. A
// non-nil error means the caller is gone.
func (s *Session) playPrompt(ctx context.Context, cur flow.Cursor, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if text == "" {
		return nil
	}

	promptID := uuid.NewString()
	s.emit(&PromptStartedEvent{
		PromptID:      promptID,
		NodeID:        cur.NodeID,
		Text:          text,
		Interruptible: !cur.NonInterruptible,
	})
	turn := s.transcript.Append(Turn{Kind: TurnPrompt, NodeID: cur.NodeID, Text: text})
	s.emit(&TurnRecordedEvent{Turn: turn})

	if s.providers.Synthesizer == nil {
		return nil
	}
	pcm, err := s.providers.Synthesizer.Synthesize(ctx, text, speech.SynthesizeOptions{
		Voice:      s.cfg.Voice,
		Language:   s.cfg.Language,
		SampleRate: s.cfg.SampleRate,
	})
	if err != nil {
		// The text event already went out; a silent node beats a dead call.
		s.logger.Warn("prompt synthesis failed", "node", cur.NodeID, "error", err)
		s.emit(&ErrorEvent{Code: "tts_failed", Message: err.Error()})
		return nil
	}

	pw, err := s.mux.BeginPrompt(promptID, !cur.NonInterruptible)
	if err != nil {
		s.logger.Warn("prompt playback rejected", "node", cur.NodeID, "error", err)
		return nil
	}

	frameBytes := audio.Config{
		SampleRate:    s.cfg.SampleRate,
		Channels:      1,
		BitsPerSample: 16,
	}.BytesForDurationMs(20)
	if frameBytes < 2 {
		frameBytes = 2 // one 16-bit sample; the streaming loop must advance
	}
	frameDuration := 20 * time.Millisecond

	for off := 0; off < len(pcm); off += frameBytes {
		if err := ctx.Err(); err != nil {
			s.mux.HaltPlayback()
			return err
		}
		end := off + frameBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if werr := pw.Write(pcm[off:end]); werr != nil {
			// Halted: barge-in or transport stall. Surface the interrupt
			// event if one was raised.
			select {
			case b, ok := <-s.mux.BargeIn():
				if ok {
					s.emit(&PromptInterruptedEvent{
						PromptID:   b.PromptID,
						PositionMs: b.PositionMs,
						Energy:     b.Energy,
					})
					s.logger.Debug("prompt interrupted",
						"prompt_id", b.PromptID, "position_ms", b.PositionMs)
				}
			default:
			}
			return nil
		}
		select {
		case <-ctx.Done():
			s.mux.HaltPlayback()
			return ctx.Err()
		case <-time.After(frameDuration):
		}
	}
	pw.Finish()
	return nil
}

// speakTransfer plays the transfer announcement, non-interruptible.
func (s *Session) speakTransfer(ctx context.Context, text string) {
	cur := flow.Cursor{NodeID: "transfer", NonInterruptible: true}
	if err := s.playPrompt(ctx, cur, text); err != nil {
		s.logger.Debug("transfer prompt cut short", "error", err)
	}
}

// listen gathers one round of caller input: a completed DTMF entry, a
// classified utterance, or a timeout.
func (s *Session) listen(ctx context.Context, cur flow.Cursor) (captured, error) {
	collector := audio.NewDigitCollector(cur.DigitLength, '#')

	s.mu.Lock()
	degraded := s.speechDegraded
	s.mu.Unlock()
	useSpeech := !cur.DeterministicOnly && !degraded &&
		s.providers.Recognizer != nil && s.providers.Classifier != nil

	type speechResult struct {
		text   string
		intent speech.Intent
		err    error
	}
	var speechCh chan speechResult

	if useSpeech {
		stream, err := s.providers.Recognizer.NewStream(ctx, speech.RecognizeOptions{
			Language:   s.cfg.Language,
			SampleRate: s.cfg.SampleRate,
		})
		if err != nil {
			return captured{}, err
		}
		defer stream.Close()

		s.mux.SetForwarding(true)
		defer s.mux.SetForwarding(false)

		go func() {
			for {
				select {
				case frame, ok := <-s.mux.Frames():
					if !ok {
						return
					}
					if serr := stream.SendAudio(frame); serr != nil {
						return
					}
				case <-stream.Done():
					return
				case <-ctx.Done():
					return
				}
			}
		}()

		speechCh = make(chan speechResult, 1)
		go func() {
			final, ferr := speech.AwaitFinal(ctx, stream, s.cfg.SilenceTimeout)
			if ferr != nil {
				speechCh <- speechResult{err: ferr}
				return
			}
			intent, cerr := s.providers.Classifier.Classify(ctx, final.Text)
			speechCh <- speechResult{text: final.Text, intent: intent, err: cerr}
		}()
	}

	timer := time.NewTimer(s.cfg.SilenceTimeout)
	defer timer.Stop()
	resetTimer := func(d time.Duration) {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d)
	}

	for {
		select {
		case <-ctx.Done():
			return captured{}, core.NewCallTerminated("hangup")

		case digit, ok := <-s.mux.Digits():
			if !ok {
				return captured{}, core.NewCallTerminated("hangup")
			}
			if entry, done := collector.Push(digit); done {
				return captured{digits: entry}, nil
			}
			resetTimer(s.cfg.InterDigitTimeout)

		case r := <-speechCh:
			if r.err != nil {
				if collector.Len() > 0 {
					// Digits in flight outrank a speech failure; keep
					// collecting until the inter-digit window closes.
					speechCh = nil
					continue
				}
				return captured{}, r.err
			}
			return captured{transcript: r.text, intent: r.intent, hasIntent: true}, nil

		case <-timer.C:
			if collector.Len() > 0 {
				// Inter-digit timeout: submit what was entered; an
				// incomplete entry fails resolution and falls back.
				return captured{digits: collector.Take()}, nil
			}
			if speechCh != nil {
				// The recognition turn enforces its own silence window.
				resetTimer(s.cfg.SilenceTimeout)
				continue
			}
			return captured{}, core.NewSessionTimeout("no caller input before silence timeout")
		}
	}
}

// recordInput appends the caller's side of the turn.
func (s *Session) recordInput(cur flow.Cursor, cand captured) {
	turn := Turn{NodeID: cur.NodeID}
	switch {
	case cand.digits != "":
		turn.Kind = TurnDTMF
		turn.Text = cand.digits
	case cand.hasIntent:
		turn.Kind = TurnSpeech
		turn.Text = cand.transcript
		turn.Intent = cand.intent.Name
		turn.Confidence = cand.intent.Confidence
		turn.Slots = cand.intent.Slots
	default:
		return
	}
	recorded := s.transcript.Append(turn)
	s.emit(&TurnRecordedEvent{Turn: recorded})
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	if prev == next {
		s.mu.Unlock()
		return
	}
	if !CanTransition(prev, next) {
		s.mu.Unlock()
		s.logger.Error("illegal state transition", "from", prev, "to", next)
		return
	}
	s.state = next
	s.mu.Unlock()
	s.emit(&StateChangedEvent{From: prev, To: next})
}

func (s *Session) terminate(reason string) Summary {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return s.Summary()
	}
	prev := s.state
	s.state = StateTerminated
	s.endReason = reason
	s.endedAt = time.Now()
	if cur, err := s.flow.Cursor(s.id); err == nil {
		s.finalNode = cur.NodeID
	}
	s.mu.Unlock()

	s.emit(&StateChangedEvent{From: prev, To: StateTerminated})
	summary := s.Summary()
	s.emit(&ClosedEvent{Reason: reason, Summary: summary})
	s.logger.Info("session terminated", "reason", reason, "turns", len(summary.Turns))
	return summary
}

func (s *Session) emit(e Event) {
	if s.handler != nil {
		s.handler(e)
	}
}

// expandPrompt substitutes {key} placeholders from the last transaction
// result so terminal prompts can speak lookup output.
func expandPrompt(text string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(text, "{") {
		return text
	}
	for k, v := range vars {
		text = strings.ReplaceAll(text, "{"+k+"}", v)
	}
	return text
}
