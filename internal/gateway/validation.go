package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrValidation marks a request rejected before any work was done.
var ErrValidation = errors.New("validation failed")

const (
	msgRequired = "This field is required."
	msgBlank    = "This field may not be blank."
	msgString   = "Not a valid string."
	msgNumber   = "A valid number is required."
	msgNull     = "This field may not be null."
	msgMaxTemp  = "Ensure this value is less than or equal to 2."
	msgMinTemp  = "Ensure this value is greater than or equal to 0."
)

// maxBodyBytes bounds the chat request body.
const maxBodyBytes = 1 << 20

// ValidationError maps each offending field to its messages.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(names, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

// ChatRequest is the body of POST /api/chat/stream.
type ChatRequest struct {
	ThreadID    string  `json:"thread_id"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	Message     string  `json:"message"`
}

// parseError is returned for bodies that are not a JSON object.
type parseError struct{ cause error }

func (e *parseError) Error() string { return "JSON parse error - " + e.cause.Error() }
func (e *parseError) Unwrap() error { return ErrValidation }

// decodeChatRequest reads and validates a chat request. Every field is
// required; all problems are reported together.
func decodeChatRequest(body io.Reader) (ChatRequest, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil {
		return ChatRequest{}, &parseError{cause: err}
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return ChatRequest{}, &parseError{cause: err}
	}

	var req ChatRequest
	verr := &ValidationError{}
	req.ThreadID = stringField(raw, "thread_id", verr)
	req.Model = stringField(raw, "model", verr)
	req.Message = stringField(raw, "message", verr)
	req.Temperature = temperatureField(raw, verr)

	if len(verr.Fields) > 0 {
		return ChatRequest{}, verr
	}
	return req, nil
}

func stringField(raw map[string]json.RawMessage, name string, verr *ValidationError) string {
	value, ok := raw[name]
	if !ok {
		verr.add(name, msgRequired)
		return ""
	}
	if isNull(value) {
		verr.add(name, msgNull)
		return ""
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		verr.add(name, msgString)
		return ""
	}
	if strings.TrimSpace(s) == "" {
		verr.add(name, msgBlank)
		return ""
	}
	return s
}

func temperatureField(raw map[string]json.RawMessage, verr *ValidationError) float64 {
	const name = "temperature"
	value, ok := raw[name]
	if !ok {
		verr.add(name, msgRequired)
		return 0
	}
	if isNull(value) {
		verr.add(name, msgNull)
		return 0
	}
	var t float64
	if err := json.Unmarshal(value, &t); err != nil {
		// Numeric strings are accepted, as form-encoded clients send them.
		var s string
		if json.Unmarshal(value, &s) != nil || json.Unmarshal([]byte(strings.TrimSpace(s)), &t) != nil {
			verr.add(name, msgNumber)
			return 0
		}
	}
	switch {
	case t < 0:
		verr.add(name, msgMinTemp)
	case t > 2:
		verr.add(name, msgMaxTemp)
	}
	return t
}

func isNull(value json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(value), []byte("null"))
}
