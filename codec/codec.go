package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMultiline is returned when a payload would span more than one line on the wire.
var ErrMultiline = errors.New("payload contains a line break")

// ReplyError is a failure reported by the worker itself in an ok=false envelope.
type ReplyError struct {
	Message string
}

func (e *ReplyError) Error() string {
	return "backend error: " + e.Message
}

// Reply is the envelope the worker writes for every request.
type Reply struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Encode marshals v into a single request line, without the trailing newline.
func Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}
	// json.Marshal escapes line breaks in strings and compacts RawMessage and Marshaler output,
	// so the result is always a single line.
	return string(b), nil
}

// EncodeRaw checks that an already-encoded payload fits on one line.
func EncodeRaw(payload string) (string, error) {
	if strings.ContainsAny(payload, "\r\n") {
		return "", ErrMultiline
	}
	return payload, nil
}

// Decode parses a reply line and unmarshals its result into result, which may be nil.
// A reply with ok=false is returned as a *ReplyError.
func Decode(line string, result any) error {
	var reply Reply
	if err := json.Unmarshal([]byte(line), &reply); err != nil {
		return fmt.Errorf("decoding reply envelope: %w", err)
	}
	if !reply.OK {
		msg := reply.Error
		if msg == "" {
			msg = "unknown error"
		}
		return &ReplyError{Message: msg}
	}
	if result == nil || len(reply.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(reply.Result, result); err != nil {
		return fmt.Errorf("decoding reply result: %w", err)
	}
	return nil
}
