// Package backup encodes calculation records into URL-safe share tokens and
// restores them from untrusted tokens or downloaded backup files.
//
// Tokens are base64url (no padding) over compact JSON. They are not encrypted: anyone
// holding a link can read the inputs and result it carries.
package backup

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// DefaultMaxTokenLength bounds the size of tokens and backup files accepted on restore.
const DefaultMaxTokenLength = 64 << 10

// Registry reports whether a calculator slug is known.
type Registry interface {
	Exists(toolID string) bool
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the time source used to stamp CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMaxTokenLength overrides DefaultMaxTokenLength.
func WithMaxTokenLength(n int) Option {
	return func(c *Codec) {
		if n > 0 {
			c.maxTokenLength = n
		}
	}
}

// Codec converts records to and from share tokens. It holds no mutable state and is
// safe for concurrent use.
type Codec struct {
	registry       Registry
	now            func() time.Time
	maxTokenLength int
}

// NewCodec constructs a Codec validating tool ids against registry.
func NewCodec(registry Registry, opts ...Option) *Codec {
	if registry == nil {
		panic("backup: nil registry")
	}
	c := &Codec{
		registry:       registry,
		now:            time.Now,
		maxTokenLength: DefaultMaxTokenLength,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewRecord builds a record stamped with the current time. Inputs are normalised to
// their JSON form (numbers become json.Number) so the record compares equal to what
// Decode later returns for it.
func (c *Codec) NewRecord(toolID string, inputs map[string]any, resultText string) (Record, error) {
	if strings.TrimSpace(toolID) == "" {
		return Record{}, &EncodingError{Err: ErrEmptyToolID}
	}
	normalized, err := normalizeInputs(inputs)
	if err != nil {
		return Record{}, &EncodingError{Err: err}
	}
	return Record{
		ToolID:     toolID,
		Inputs:     normalized,
		ResultText: resultText,
		CreatedAt:  FormatTimestamp(c.now()),
	}, nil
}

// Encode serialises r into a share token. CreatedAt is stamped only when empty.
//
// Inputs must already be in decoded JSON form: strings, bools, nil, json.Number,
// map[string]any and []any. Go numeric types are rejected with ErrNonCanonicalInput
// because Decode would return them as json.Number; build records with NewRecord to
// normalise them.
func (c *Codec) Encode(r Record) (string, error) {
	payload, err := c.marshal(r, "")
	if err != nil {
		return "", err
	}
	payload = bytes.TrimSuffix(payload, []byte("\n"))
	return base64.RawURLEncoding.EncodeToString(payload), nil
}

// Decode restores a record from an untrusted token. Every failure is a *DecodeError.
func (c *Codec) Decode(token string) (Record, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Record{}, decodeError(KindMissing, nil)
	}
	if len(token) > c.maxTokenLength {
		return Record{}, decodeError(KindMalformed, fmt.Errorf("token exceeds %d bytes", c.maxTokenLength))
	}
	payload, err := decodeToken(token)
	if err != nil {
		return Record{}, decodeError(KindMalformed, err)
	}
	// Tokens from the web client's btoa carry Latin-1 bytes rather than UTF-8.
	if !utf8.Valid(payload) {
		payload, err = charmap.ISO8859_1.NewDecoder().Bytes(payload)
		if err != nil {
			return Record{}, decodeError(KindMalformed, err)
		}
	}
	return c.parse(payload)
}

func (c *Codec) marshal(r Record, indent string) ([]byte, error) {
	if strings.TrimSpace(r.ToolID) == "" {
		return nil, &EncodingError{Err: ErrEmptyToolID}
	}
	if r.CreatedAt == "" {
		r.CreatedAt = FormatTimestamp(c.now())
	}
	if r.Inputs == nil {
		r.Inputs = map[string]any{}
	}
	if err := checkCanonical(r.Inputs, 0); err != nil {
		return nil, &EncodingError{Err: err}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(r); err != nil {
		return nil, &EncodingError{Err: err}
	}
	return buf.Bytes(), nil
}

// tokenAlphabet maps base64url and query-mangled standard base64 onto the standard
// alphabet. Links produced by the web client use standard base64, and a "+" that went
// through query decoding arrives as a space.
var tokenAlphabet = strings.NewReplacer("-", "+", "_", "/", " ", "+")

func decodeToken(token string) ([]byte, error) {
	normalized := tokenAlphabet.Replace(strings.TrimRight(token, "="))
	return base64.RawStdEncoding.DecodeString(normalized)
}

func (c *Codec) parse(payload []byte) (Record, error) {
	payload = bytes.TrimPrefix(payload, []byte("\xef\xbb\xbf"))
	if !json.Valid(payload) {
		return Record{}, decodeError(KindMalformed, errors.New("payload is not valid JSON"))
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return Record{}, decodeError(KindInvalidShape, errors.New("payload is not a JSON object"))
	}

	toolID, err := stringField(fields, fieldToolID, true)
	if err != nil {
		return Record{}, err
	}
	if strings.TrimSpace(toolID) == "" {
		return Record{}, decodeError(KindInvalidShape, fmt.Errorf("field %q is empty", fieldToolID))
	}
	inputs, err := inputsField(fields)
	if err != nil {
		return Record{}, err
	}
	resultText, err := stringField(fields, fieldResultText, true)
	if err != nil {
		return Record{}, err
	}
	createdAt, err := stringField(fields, fieldCreatedAt, false)
	if err != nil {
		return Record{}, err
	}

	if !c.registry.Exists(toolID) {
		return Record{}, decodeError(KindUnknownTool, fmt.Errorf("calculator %q", toolID))
	}

	return Record{
		ToolID:     toolID,
		Inputs:     inputs,
		ResultText: resultText,
		CreatedAt:  createdAt,
	}, nil
}

func stringField(fields map[string]json.RawMessage, key string, required bool) (string, error) {
	raw, ok := fields[key]
	if !ok {
		if required {
			return "", decodeError(KindInvalidShape, fmt.Errorf("field %q is required", key))
		}
		return "", nil
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", decodeError(KindInvalidShape, fmt.Errorf("field %q must be a string", key))
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", decodeError(KindInvalidShape, fmt.Errorf("field %q must be a string", key))
	}
	return value, nil
}

func inputsField(fields map[string]json.RawMessage) (map[string]any, error) {
	raw, ok := fields[fieldInputs]
	if !ok {
		return nil, decodeError(KindInvalidShape, fmt.Errorf("field %q is required", fieldInputs))
	}
	var inputs map[string]any
	if err := unmarshalNumbers(raw, &inputs); err != nil || inputs == nil {
		return nil, decodeError(KindInvalidShape, fmt.Errorf("field %q must be an object", fieldInputs))
	}
	return inputs, nil
}

// maxInputDepth bounds nesting in inputs and stops cyclic maps.
const maxInputDepth = 64

func checkCanonical(value any, depth int) error {
	if depth > maxInputDepth {
		return fmt.Errorf("%w: nested deeper than %d levels", ErrNonCanonicalInput, maxInputDepth)
	}
	switch v := value.(type) {
	case nil, string, bool, json.Number:
		return nil
	case map[string]any:
		for key, item := range v {
			if err := checkCanonical(item, depth+1); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
		return nil
	case []any:
		for i, item := range v {
			if err := checkCanonical(item, depth+1); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrNonCanonicalInput, value)
	}
}

func normalizeInputs(inputs map[string]any) (map[string]any, error) {
	if inputs == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(inputs)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := unmarshalNumbers(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func unmarshalNumbers(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}
