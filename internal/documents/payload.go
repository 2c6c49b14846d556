package documents

import (
	"bytes"
	"encoding/json"
	"errors"
)

// BlockContent marshals blocks as a JSON object keyed by block id, keeping
// document order (encoding/json would sort map keys, putting block_10
// before block_2).
type BlockContent []Block

// MarshalJSON implements json.Marshaler.
func (c BlockContent) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, block := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshalNoEscape(block.ID)
		if err != nil {
			return nil, err
		}
		val, err := marshalNoEscape(block.Text)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type fetchPayload struct {
	Title       string       `json:"title"`
	Authors     []string     `json:"authors"`
	Abstract    string       `json:"abstract"`
	Content     BlockContent `json:"content"`
	FilePointer string       `json:"file_pointer"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// FetchPayload renders a fetched document, or the error that prevented the
// fetch, as the JSON handed to the model.
func FetchPayload(doc *Document, fetchErr error) (string, error) {
	if fetchErr != nil {
		return ErrorPayload(FetchErrorMessage(fetchErr))
	}
	return encode(fetchPayload{
		Title:       doc.Title,
		Authors:     nonNil(doc.Authors),
		Abstract:    doc.Abstract,
		Content:     BlockContent(doc.Blocks),
		FilePointer: doc.FilePointer,
	})
}

// FetchErrorMessage maps a Fetch error to the message shown to the model.
func FetchErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "Paper not found"
	case errors.Is(err, ErrExtraction):
		return "Error processing PDF: " + err.Error()
	default:
		return "Error retrieving paper: " + err.Error()
	}
}

// ErrorPayload renders {"error": msg}.
func ErrorPayload(msg string) (string, error) {
	return encode(errorPayload{Error: msg})
}

// EncodeJSON renders v indented, without HTML escaping.
func EncodeJSON(v any) (string, error) {
	return encode(v)
}

func encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

func marshalNoEscape(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
