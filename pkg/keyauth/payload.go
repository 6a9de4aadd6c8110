package keyauth

import (
	"encoding/json"
	"fmt"
)

// Payload is a signature-verified JSON response body.
// Its accessors fail on missing or wrongly typed fields instead of defaulting.
type Payload struct {
	raw    []byte
	fields map[string]json.RawMessage
}

func parsePayload(body []byte) (*Payload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: response is not a JSON object", ErrMalformedResponse)
	}
	return &Payload{raw: body, fields: fields}, nil
}

// Raw returns the body exactly as received
func (p *Payload) Raw() []byte {
	return p.raw
}

// Has reports whether the body contains key
func (p *Payload) Has(key string) bool {
	_, ok := p.fields[key]
	return ok
}

// BoolField returns a boolean field
func (p *Payload) BoolField(key string) (bool, error) {
	var v bool
	if err := p.field(key, &v); err != nil {
		return false, err
	}
	return v, nil
}

// StringField returns a string field
func (p *Payload) StringField(key string) (string, error) {
	var v string
	if err := p.field(key, &v); err != nil {
		return "", err
	}
	return v, nil
}

// Decode unmarshals the whole body into v
func (p *Payload) Decode(v any) error {
	if err := json.Unmarshal(p.raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func (p *Payload) field(key string, v any) error {
	raw, ok := p.fields[key]
	if !ok {
		return fmt.Errorf("%w: missing field %q", ErrMalformedResponse, key)
	}
	if string(raw) == "null" {
		return fmt.Errorf("%w: field %q is null", ErrMalformedResponse, key)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: field %q has the wrong type", ErrMalformedResponse, key)
	}
	return nil
}
