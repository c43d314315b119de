// Package protocol defines the wire messages exchanged on the /v1/call
// websocket. The caller leg sends one call.start frame, then raw binary
// PCM16LE audio interleaved with JSON dtmf frames, and finally call.end.
// The server replies with call.accepted, binary prompt audio, audio.reset
// on barge-in, and JSON event frames mirroring the session lifecycle.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const ProtocolVersion1 = "1"

// MinSampleRateHz is the lowest caller audio rate the gateway accepts.
// Rates below telephony narrowband make the 20ms framing degenerate.
const MinSampleRateHz = 8000

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// CallStart opens a call leg. It must be the first frame on the socket.
type CallStart struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	CallerID        string `json:"caller_id"`
	Encoding        string `json:"encoding,omitempty"`
	SampleRateHz    int    `json:"sample_rate_hz,omitempty"`
}

// DTMF carries one keypad digit pressed by the caller.
type DTMF struct {
	Type  string `json:"type"`
	Digit string `json:"digit"`
}

// CallEnd signals a clean hangup from the caller side.
type CallEnd struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

func isDTMFDigit(s string) bool {
	if len(s) != 1 {
		return false
	}
	c := s[0]
	return (c >= '0' && c <= '9') || c == '*' || c == '#'
}

// DecodeClientMessage parses a JSON text frame from the caller leg.
// Binary frames never reach this function; they are raw PCM audio.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "call.start":
		var msg CallStart
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid call.start frame", "")
		}
		if err := ValidateCallStart(&msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "dtmf":
		var msg DTMF
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid dtmf frame", "")
		}
		if !isDTMFDigit(msg.Digit) {
			return nil, badRequest("dtmf.digit must be one of 0-9, *, #", "digit")
		}
		return msg, nil
	case "call.end":
		var msg CallEnd
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid call.end frame", "")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// ValidateCallStart checks and normalizes a call.start frame in place.
func ValidateCallStart(msg *CallStart) error {
	if strings.TrimSpace(msg.ProtocolVersion) == "" {
		return badRequest("call.start.protocol_version is required", "protocol_version")
	}
	if msg.ProtocolVersion != ProtocolVersion1 {
		return unsupported("unsupported protocol version", "protocol_version")
	}
	if strings.TrimSpace(msg.CallerID) == "" {
		return badRequest("call.start.caller_id is required", "caller_id")
	}
	encoding := strings.TrimSpace(msg.Encoding)
	if encoding == "" {
		encoding = "pcm_s16le"
	}
	if encoding != "pcm_s16le" {
		return unsupported("unsupported audio encoding", "encoding")
	}
	msg.Encoding = encoding
	if msg.SampleRateHz == 0 {
		msg.SampleRateHz = MinSampleRateHz
	}
	if msg.SampleRateHz < MinSampleRateHz {
		return badRequest("call.start.sample_rate_hz must be at least 8000", "sample_rate_hz")
	}
	return nil
}

// CallAccepted acknowledges call.start and pins the negotiated audio shape.
type CallAccepted struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	Encoding        string `json:"encoding"`
	SampleRateHz    int    `json:"sample_rate_hz"`
}

// Event is one session lifecycle frame. Fields beyond Type and Event are
// populated per event kind and omitted otherwise.
type Event struct {
	Type       string         `json:"type"`
	Event      string         `json:"event"`
	SessionID  string         `json:"session_id,omitempty"`
	NodeID     string         `json:"node_id,omitempty"`
	From       string         `json:"from,omitempty"`
	To         string         `json:"to,omitempty"`
	TurnIndex  int            `json:"turn_index,omitempty"`
	TurnKind   string         `json:"turn_kind,omitempty"`
	Text       string         `json:"text,omitempty"`
	Intent     string         `json:"intent,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	PromptID   string         `json:"prompt_id,omitempty"`
	PositionMS int64          `json:"position_ms,omitempty"`
	Operation  string         `json:"operation,omitempty"`
	Status     string         `json:"status,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Action     string         `json:"action,omitempty"`
	Retry      int            `json:"retry,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
}

// AudioReset tells the caller leg to flush any buffered prompt audio.
// Sent on barge-in, ahead of any queued prompt frames.
type AudioReset struct {
	Type     string `json:"type"`
	Reason   string `json:"reason"`
	PromptID string `json:"prompt_id,omitempty"`
}

// ServerError is a terminal or advisory error frame.
type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Close   bool   `json:"close,omitempty"`
}

func NewCallAccepted(sessionID string, sampleRate int) CallAccepted {
	return CallAccepted{
		Type:            "call.accepted",
		ProtocolVersion: ProtocolVersion1,
		SessionID:       sessionID,
		Encoding:        "pcm_s16le",
		SampleRateHz:    sampleRate,
	}
}

func NewAudioReset(reason, promptID string) AudioReset {
	return AudioReset{Type: "audio.reset", Reason: reason, PromptID: promptID}
}

func NewServerError(code, message string, close bool) ServerError {
	return ServerError{Type: "error", Code: code, Message: message, Close: close}
}
