package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/voxbridge/voxbridge/pkg/core"
	"github.com/voxbridge/voxbridge/pkg/core/audio"
	"github.com/voxbridge/voxbridge/pkg/core/flow"
	"github.com/voxbridge/voxbridge/pkg/core/speech"
	"github.com/voxbridge/voxbridge/pkg/core/txn"
)

// fixedSynth renders every prompt as a fixed number of 20ms silence
// frames so playback timing is controllable from tests.
type fixedSynth struct{ frames int }

func (f fixedSynth) Name() string { return "fixed" }

func (f fixedSynth) Synthesize(context.Context, string, speech.SynthesizeOptions) ([]byte, error) {
	return make([]byte, f.frames*320), nil
}

// scriptedRecognizer hands out one scripted stream per listen round.
type sttScript struct {
	err error
	run func(stream *speech.RecognitionStream)
}

func speak(text string) sttScript {
	return sttScript{run: func(s *speech.RecognitionStream) {
		s.PushDelta(speech.TranscriptDelta{Text: text, IsFinal: true, Confidence: 0.9})
	}}
}

type scriptedRecognizer struct {
	mu      sync.Mutex
	scripts []sttScript
}

func (r *scriptedRecognizer) Name() string { return "scripted" }

func (r *scriptedRecognizer) NewStream(ctx context.Context, _ speech.RecognizeOptions) (*speech.RecognitionStream, error) {
	r.mu.Lock()
	var sc sttScript
	if len(r.scripts) > 0 {
		sc = r.scripts[0]
		r.scripts = r.scripts[1:]
	}
	r.mu.Unlock()

	if sc.err != nil {
		return nil, sc.err
	}
	s := speech.NewRecognitionStream()
	if sc.run != nil {
		go sc.run(s)
	}
	return s, nil
}

// delayedExecutor holds every attempt for a fixed time first.
type delayedExecutor struct {
	inner txn.Executor
	delay time.Duration
}

func (e *delayedExecutor) Execute(ctx context.Context, d *txn.Descriptor) (txn.Outcome, error) {
	select {
	case <-time.After(e.delay):
	case <-ctx.Done():
		return txn.Outcome{}, ctx.Err()
	}
	return e.inner.Execute(ctx, d)
}

// failFirstExecutor fails at the transport level for the first N attempts.
type failFirstExecutor struct {
	mu       sync.Mutex
	failures int
	inner    txn.Executor
}

func (e *failFirstExecutor) Execute(ctx context.Context, d *txn.Descriptor) (txn.Outcome, error) {
	e.mu.Lock()
	fail := e.failures > 0
	if fail {
		e.failures--
	}
	e.mu.Unlock()
	if fail {
		return txn.Outcome{}, context.DeadlineExceeded
	}
	return e.inner.Execute(ctx, d)
}

type eventRecorder struct {
	mu  sync.Mutex
	all []Event
	ch  chan Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{ch: make(chan Event, 256)}
}

func (r *eventRecorder) handle(e Event) {
	r.mu.Lock()
	r.all = append(r.all, e)
	r.mu.Unlock()
	select {
	case r.ch <- e:
	default:
	}
}

func (r *eventRecorder) events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.all))
	copy(out, r.all)
	return out
}

func (r *eventRecorder) waitFor(t *testing.T, what string, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-r.ch:
			if match(e) {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
			return nil
		}
	}
}

func stateIs(to State) func(Event) bool {
	return func(e Event) bool {
		sc, ok := e.(*StateChangedEvent)
		return ok && sc.To == to
	}
}

func isType(typ string) func(Event) bool {
	return func(e Event) bool { return e.EventType() == typ }
}

func indexOf(events []Event, match func(Event) bool) int {
	for i, e := range events {
		if match(e) {
			return i
		}
	}
	return -1
}

type runResult struct {
	summary Summary
	err     error
}

type harness struct {
	t       *testing.T
	mux     *audio.Multiplexer
	backend *txn.DemoBackend
	rec     *eventRecorder
	sess    *Session
	cancel  context.CancelFunc
	done    chan runResult
}

func startSession(t *testing.T, cfg Config, providers Providers, exec txn.Executor) *harness {
	t.Helper()

	backend := txn.NewDemoBackend()
	if exec == nil {
		exec = backend
	}
	mux := audio.NewMultiplexer(audio.DefaultConfig(), audio.DefaultOptions())
	bridge := txn.NewBridge(exec, txn.NewMemoryStore(),
		txn.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2},
		time.Second, nil)
	rec := newEventRecorder()

	sess, err := New(Options{
		ID:        "test-session",
		CallerID:  "+15550100",
		Config:    cfg,
		Mux:       mux,
		Flow:      flow.NewGraphAdapter(flow.DemoGraph()),
		Bridge:    bridge,
		Providers: providers,
		Handler:   rec.handle,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan runResult, 1)
	go func() {
		summary, rerr := sess.Run(ctx)
		done <- runResult{summary, rerr}
	}()
	go func() {
		for range mux.Outbound() {
		}
	}()

	h := &harness{t: t, mux: mux, backend: backend, rec: rec, sess: sess, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		h.waitResult()
		mux.Close()
	})
	return h
}

func (h *harness) waitResult() Summary {
	h.t.Helper()
	select {
	case r := <-h.done:
		h.done <- r // keep available for repeat calls
		return r.summary
	case <-time.After(5 * time.Second):
		h.t.Fatalf("session did not terminate")
		return Summary{}
	}
}

func testConfig() Config {
	return Config{
		SilenceTimeout:      time.Second,
		InterDigitTimeout:   300 * time.Millisecond,
		MaxFallbackRetries:  2,
		TransactionDeadline: time.Second,
	}
}

func dtmfOnly() Providers {
	return Providers{Synthesizer: fixedSynth{frames: 3}}
}

func TestSessionFirstTransitionEntersResponding(t *testing.T) {
	h := startSession(t, testConfig(), dtmfOnly(), nil)

	e := h.rec.waitFor(t, "first state change", isType("state.changed")).(*StateChangedEvent)
	if e.From != StateCreated || e.To != StateResponding {
		t.Fatalf("first transition = %s -> %s, want created -> responding", e.From, e.To)
	}
	if got := h.sess.State(); got == StateCreated {
		t.Fatalf("session still reports created after the greeting started")
	}
}

func TestSessionDTMFBookingFlow(t *testing.T) {
	h := startSession(t, testConfig(), dtmfOnly(), nil)

	h.rec.waitFor(t, "listening at main", stateIs(StateListening))
	h.mux.PushDigit('1')
	h.rec.waitFor(t, "listening at booking", stateIs(StateListening))
	h.mux.PushDigit('1')

	summary := h.waitResult()
	if summary.Reason != "completed" {
		t.Fatalf("reason = %q, want completed", summary.Reason)
	}
	if summary.FinalNode != "booking_done" {
		t.Fatalf("final node = %q", summary.FinalNode)
	}
	if h.backend.Bookings() != 1 {
		t.Fatalf("bookings = %d, want 1", h.backend.Bookings())
	}

	settled := indexOf(h.rec.events(), isType("transaction.settled"))
	if settled < 0 {
		t.Fatalf("no transaction.settled event")
	}

	var sawReference bool
	for _, turn := range summary.Turns {
		if turn.Kind == TurnPrompt && turn.NodeID == "booking_done" {
			sawReference = turn.Text != "" && !containsPlaceholder(turn.Text)
		}
	}
	if !sawReference {
		t.Fatalf("terminal prompt did not expand the booking reference: %+v", summary.Turns)
	}
}

func containsPlaceholder(s string) bool {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '{' {
			return true
		}
	}
	return false
}

func TestSessionSilenceTimeoutTransfersAfterRetries(t *testing.T) {
	cfg := testConfig()
	cfg.SilenceTimeout = 50 * time.Millisecond
	h := startSession(t, cfg, dtmfOnly(), nil)

	summary := h.waitResult()
	if summary.Reason != "transfer" {
		t.Fatalf("reason = %q, want transfer", summary.Reason)
	}

	var actions []string
	for _, e := range h.rec.events() {
		if fb, ok := e.(*FallbackEvent); ok {
			actions = append(actions, fb.Action)
			if fb.Reason != string(core.ErrSessionTimeout) {
				t.Errorf("fallback reason = %s, want session_timeout", fb.Reason)
			}
		}
	}
	want := []string{string(ActionReprompt), string(ActionReprompt), string(ActionTransferAgent)}
	if len(actions) != len(want) {
		t.Fatalf("fallback actions = %v, want %v", actions, want)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Fatalf("fallback actions = %v, want %v", actions, want)
		}
	}
}

func TestSessionOpenStreamWithoutFinalIsRecognitionTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.SilenceTimeout = 50 * time.Millisecond
	providers := Providers{
		Synthesizer: fixedSynth{frames: 3},
		// Streams open but never produce a final transcript.
		Recognizer: &scriptedRecognizer{},
		Classifier: speech.NewRuleClassifier(),
	}
	h := startSession(t, cfg, providers, nil)

	fb := h.rec.waitFor(t, "fallback after stalled stream", isType("fallback.engaged")).(*FallbackEvent)
	if fb.Reason != string(core.ErrRecognitionTimeout) {
		t.Fatalf("fallback reason = %s, want recognition_timeout", fb.Reason)
	}
	h.waitResult()
}

func TestSessionBargeInHaltsPromptBeforeInput(t *testing.T) {
	h := startSession(t, testConfig(), Providers{Synthesizer: fixedSynth{frames: 25}}, nil)

	h.rec.waitFor(t, "prompt started", isType("prompt.started"))

	// Shout over the prompt until the interrupt lands.
	loud := make([]byte, 320)
	for i := 0; i < len(loud); i += 2 {
		loud[i] = 0x40
		loud[i+1] = 0x1f // 8000 per sample, RMS well above threshold
	}
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
				h.mux.PushInbound(loud)
			}
		}
	}()
	h.rec.waitFor(t, "prompt interrupted", isType("prompt.interrupted"))
	close(stop)

	h.rec.waitFor(t, "listening after barge-in", stateIs(StateListening))
	h.mux.PushDigit('3')

	summary := h.waitResult()
	if summary.Reason != "transfer" {
		t.Fatalf("reason = %q, want transfer", summary.Reason)
	}

	events := h.rec.events()
	interrupted := indexOf(events, isType("prompt.interrupted"))
	resolving := indexOf(events, stateIs(StateResolving))
	if interrupted < 0 || resolving < 0 || interrupted > resolving {
		t.Fatalf("playback must halt before input resolves: interrupted=%d resolving=%d",
			interrupted, resolving)
	}
}

func TestSessionIntentDrivenFlow(t *testing.T) {
	providers := Providers{
		Synthesizer: fixedSynth{frames: 3},
		Recognizer: &scriptedRecognizer{scripts: []sttScript{
			speak("I want to book a ticket"),
			speak("thanks, goodbye"),
		}},
		Classifier: speech.NewRuleClassifier(),
	}
	h := startSession(t, testConfig(), providers, nil)

	summary := h.waitResult()
	if summary.Reason != "completed" {
		t.Fatalf("reason = %q, want completed", summary.Reason)
	}
	if summary.FinalNode != "goodbye" {
		t.Fatalf("final node = %q, want goodbye", summary.FinalNode)
	}

	var intents []string
	for _, turn := range summary.Turns {
		if turn.Kind == TurnSpeech {
			intents = append(intents, turn.Intent)
		}
	}
	if len(intents) != 2 || intents[0] != speech.IntentBooking || intents[1] != speech.IntentEndCall {
		t.Fatalf("speech intents = %v", intents)
	}
}

func TestSessionLowConfidenceFallsBack(t *testing.T) {
	providers := Providers{
		Synthesizer: fixedSynth{frames: 3},
		Recognizer: &scriptedRecognizer{scripts: []sttScript{
			speak("mumble mumble"),
			speak("I need a human operator"),
		}},
		Classifier: speech.NewRuleClassifier(),
	}
	h := startSession(t, testConfig(), providers, nil)

	fb := h.rec.waitFor(t, "fallback after low confidence", isType("fallback.engaged")).(*FallbackEvent)
	if fb.Action != string(ActionReprompt) {
		t.Fatalf("fallback action = %s, want reprompt", fb.Action)
	}

	summary := h.waitResult()
	if summary.Reason != "transfer" {
		t.Fatalf("reason = %q, want transfer", summary.Reason)
	}
}

func TestSessionRecognitionUnavailableDegradesToDTMF(t *testing.T) {
	providers := Providers{
		Synthesizer: fixedSynth{frames: 3},
		Recognizer: &scriptedRecognizer{scripts: []sttScript{
			{err: core.NewRecognitionUnavailable("stt connect failed", nil)},
		}},
		Classifier: speech.NewRuleClassifier(),
	}
	h := startSession(t, testConfig(), providers, nil)

	fb := h.rec.waitFor(t, "degrade fallback", isType("fallback.engaged")).(*FallbackEvent)
	if fb.Action != string(ActionDegradeDTMF) {
		t.Fatalf("fallback action = %s, want degrade_dtmf", fb.Action)
	}

	h.rec.waitFor(t, "listening after degrade", stateIs(StateListening))
	h.mux.PushDigit('2')
	h.rec.waitFor(t, "listening at pnr entry", stateIs(StateListening))
	for _, d := range []byte("314159") {
		h.mux.PushDigit(d)
	}

	summary := h.waitResult()
	if summary.Reason != "completed" {
		t.Fatalf("reason = %q, want completed", summary.Reason)
	}
	if h.backend.Executions("pnr_lookup") != 1 {
		t.Fatalf("pnr_lookup executed %d times, want 1", h.backend.Executions("pnr_lookup"))
	}

	var spokeStatus bool
	for _, turn := range summary.Turns {
		if turn.Kind == TurnPrompt && turn.NodeID == "status_result" &&
			!containsPlaceholder(turn.Text) {
			spokeStatus = true
		}
	}
	if !spokeStatus {
		t.Fatalf("status prompt did not carry lookup result: %+v", summary.Turns)
	}
}

func TestSessionHangupDuringTransactionConfirmsFinalStatus(t *testing.T) {
	backend := txn.NewDemoBackend()
	exec := &delayedExecutor{inner: backend, delay: 150 * time.Millisecond}
	h := startSession(t, testConfig(), dtmfOnly(), exec)

	h.rec.waitFor(t, "listening at main", stateIs(StateListening))
	h.mux.PushDigit('1')
	h.rec.waitFor(t, "listening at booking", stateIs(StateListening))
	h.mux.PushDigit('1')

	h.rec.waitFor(t, "transaction started", isType("transaction.started"))
	h.cancel()

	summary := h.waitResult()
	if summary.Reason != "hangup" {
		t.Fatalf("reason = %q, want hangup", summary.Reason)
	}

	events := h.rec.events()
	settled := indexOf(events, isType("transaction.settled"))
	terminated := indexOf(events, stateIs(StateTerminated))
	if settled < 0 {
		t.Fatalf("transaction never settled")
	}
	if terminated < 0 || settled > terminated {
		t.Fatalf("terminated before transaction settled: settled=%d terminated=%d",
			settled, terminated)
	}
	if ev := events[settled].(*TransactionSettledEvent); ev.Status != string(txn.StatusCommitted) {
		t.Fatalf("settled status = %s, want committed", ev.Status)
	}
	if backend.Bookings() != 1 {
		t.Fatalf("bookings = %d, want exactly 1", backend.Bookings())
	}
}

func TestSessionTransientTransactionFailureCommitsOnce(t *testing.T) {
	backend := txn.NewDemoBackend()
	exec := &failFirstExecutor{failures: 1, inner: backend}
	h := startSession(t, testConfig(), dtmfOnly(), exec)

	h.rec.waitFor(t, "listening at main", stateIs(StateListening))
	h.mux.PushDigit('1')
	h.rec.waitFor(t, "listening at booking", stateIs(StateListening))
	h.mux.PushDigit('1')

	summary := h.waitResult()
	if summary.Reason != "completed" {
		t.Fatalf("reason = %q, want completed", summary.Reason)
	}
	if backend.Bookings() != 1 {
		t.Fatalf("bookings = %d, want exactly 1 despite retry", backend.Bookings())
	}

	var settledCount int
	for _, e := range h.rec.events() {
		if e.EventType() == "transaction.settled" {
			settledCount++
		}
	}
	if settledCount != 1 {
		t.Fatalf("settled events = %d, want 1", settledCount)
	}
}
