// Package wire defines the JSON envelope exchanged with the Teaclave
// authentication and frontend services. Every request is one flat JSON
// object tagged with a "request" discriminator; every response is one
// flat JSON object.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ErrMalformed is wrapped by every Marshal and Unmarshal failure.
var ErrMalformed = errors.New("malformed message")

// Marshal encodes a request or response message.
func Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding %T: %v", ErrMalformed, v, err)
	}
	return data, nil
}

// Unmarshal decodes a message into v. The input must hold exactly one
// JSON object.
func Unmarshal(data []byte, v interface{}) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("%w: decoding %T: not a JSON object", ErrMalformed, v)
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decoding %T: %v", ErrMalformed, v, err)
	}
	// anything after the object, even a stray closing brace, is an error
	if err := dec.Decode(&json.RawMessage{}); err != io.EOF {
		return fmt.Errorf("%w: decoding %T: trailing data", ErrMalformed, v)
	}
	return nil
}

// RequestName returns the discriminator of an encoded request.
func RequestName(data []byte) (string, error) {
	var env struct {
		Request string `json:"request"`
	}
	if err := Unmarshal(data, &env); err != nil {
		return "", err
	}
	if env.Request == "" {
		return "", fmt.Errorf("%w: missing request field", ErrMalformed)
	}
	return env.Request, nil
}

// Bytes is a byte slice that travels as a JSON array of integers in
// 0..255 rather than as base64. The services expect keys, ivs and
// function payloads in that form.
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 2+4*len(b))
	buf = append(buf, '[')
	for i, c := range b {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendUint(buf, uint64(c), 10)
	}
	return append(buf, ']'), nil
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*b = nil
		return nil
	}
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte value %d out of range", v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}
