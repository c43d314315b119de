package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxbridge/voxbridge/pkg/core"
)

// WSRecognizer streams audio to a speech-to-text service over WebSocket.
// The service speaks a small JSON protocol: binary frames in, transcript
// messages out, text commands "finalize" and "done".
type WSRecognizer struct {
	endpoint string
	apiKey   string
	dialer   *websocket.Dialer
}

// NewWSRecognizer creates a recognizer for the given ws:// or wss://
// endpoint.
func NewWSRecognizer(endpoint, apiKey string) *WSRecognizer {
	return &WSRecognizer{
		endpoint: endpoint,
		apiKey:   apiKey,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (r *WSRecognizer) Name() string { return "ws-stt" }

// NewStream dials the service and starts the read loop. Connection
// failures surface as recognition_unavailable so the orchestrator routes
// them to Fallback rather than retrying blindly.
func (r *WSRecognizer) NewStream(ctx context.Context, opts RecognizeOptions) (*RecognitionStream, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return nil, core.NewRecognitionUnavailable("invalid stt endpoint", err)
	}

	q := u.Query()
	if opts.Model != "" {
		q.Set("model", opts.Model)
	}
	language := opts.Language
	if language == "" {
		language = "en"
	}
	q.Set("language", language)
	q.Set("encoding", "pcm_s16le")
	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 8000
	}
	q.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	u.RawQuery = q.Encode()

	headers := http.Header{}
	if r.apiKey != "" {
		headers.Set("Authorization", "Bearer "+r.apiKey)
	}

	conn, resp, err := r.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, core.NewRecognitionUnavailable(
				fmt.Sprintf("stt connect: status %d", resp.StatusCode), err)
		}
		return nil, core.NewRecognitionUnavailable("stt connect failed", err)
	}

	stream := NewRecognitionStream()
	var writeMu sync.Mutex

	stream.SendFunc = func(pcm []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.BinaryMessage, pcm)
	}
	stream.FinalizeFunc = func() error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, []byte("finalize"))
	}
	stream.CloseFunc = func() error {
		writeMu.Lock()
		conn.WriteMessage(websocket.TextMessage, []byte("done"))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		return conn.Close()
	}

	go r.readLoop(conn, stream)

	return stream, nil
}

type sttMessage struct {
	Type       string  `json:"type"` // "transcript", "flush_done", "done", "error"
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error"`
}

func (r *WSRecognizer) readLoop(conn *websocket.Conn, stream *RecognitionStream) {
	defer stream.FinishDeltas()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				stream.SetErr(core.NewRecognitionUnavailable("stt stream read", err))
			}
			return
		}

		var msg sttMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "transcript":
			confidence := msg.Confidence
			if confidence == 0 {
				confidence = 1
			}
			if !stream.PushDelta(TranscriptDelta{
				Text:       msg.Text,
				IsFinal:    msg.IsFinal,
				Confidence: confidence,
			}) {
				return
			}
		case "flush_done":
			continue
		case "done":
			return
		case "error":
			stream.SetErr(core.NewRecognitionUnavailable("stt service error: "+msg.Error, nil))
			return
		}
	}
}
