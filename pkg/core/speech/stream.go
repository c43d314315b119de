package speech

import (
	"sync"
	"sync/atomic"
)

// RecognitionStream is one live speech-to-text session. Audio goes in via
// SendAudio, deltas come out via Deltas. Implementations wire SendFunc,
// FinalizeFunc and CloseFunc; fakes can drive PushDelta directly.
type RecognitionStream struct {
	deltas chan TranscriptDelta
	done   chan struct{}
	closed atomic.Bool
	err    error
	errMu  sync.Mutex

	SendFunc     func(pcm []byte) error
	FinalizeFunc func() error
	CloseFunc    func() error
}

// NewRecognitionStream creates an unwired stream shell.
func NewRecognitionStream() *RecognitionStream {
	return &RecognitionStream{
		deltas: make(chan TranscriptDelta, 64),
		done:   make(chan struct{}),
	}
}

// SendAudio forwards a PCM16LE chunk to the recognizer.
func (s *RecognitionStream) SendAudio(pcm []byte) error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	if s.SendFunc != nil {
		return s.SendFunc(pcm)
	}
	return nil
}

// Finalize flushes buffered audio and asks for a final result without
// tearing the session down.
func (s *RecognitionStream) Finalize() error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	if s.FinalizeFunc != nil {
		return s.FinalizeFunc()
	}
	return nil
}

// Deltas returns the channel of recognition results. It is closed when
// the session ends.
func (s *RecognitionStream) Deltas() <-chan TranscriptDelta {
	return s.deltas
}

// Done is closed when the session has fully shut down.
func (s *RecognitionStream) Done() <-chan struct{} {
	return s.done
}

// Err reports the terminal session error, if any.
func (s *RecognitionStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close ends the session. Safe to call more than once.
func (s *RecognitionStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	var err error
	if s.CloseFunc != nil {
		err = s.CloseFunc()
	}
	close(s.done)
	return err
}

// PushDelta delivers a result to the consumer. Returns false once the
// stream is closed.
func (s *RecognitionStream) PushDelta(d TranscriptDelta) bool {
	select {
	case s.deltas <- d:
		return true
	case <-s.done:
		return false
	}
}

// SetErr records the terminal error.
func (s *RecognitionStream) SetErr(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

// FinishDeltas closes the delta channel to signal end of results.
func (s *RecognitionStream) FinishDeltas() {
	close(s.deltas)
}

// ErrStreamClosed is returned when using a closed recognition stream.
var ErrStreamClosed = &streamClosedError{}

type streamClosedError struct{}

func (e *streamClosedError) Error() string { return "recognition stream closed" }
