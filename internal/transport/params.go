package transport

import (
	"net/url"
	"strings"

	api "keyauthcli/pkg/contracts/api/v1"
)

// Param is one form field
type Param struct {
	Key   string
	Value string
}

// Params is an ordered form body
type Params struct {
	fields []Param
}

// NewParams starts a body with the type discriminator as its first field
func NewParams(t api.RequestType) *Params {
	p := &Params{}
	return p.Add(api.FieldType, t.String())
}

// Add appends a field and returns p for chaining
func (p *Params) Add(key, value string) *Params {
	p.fields = append(p.fields, Param{Key: key, Value: value})
	return p
}

// Get returns the first value stored under key
func (p *Params) Get(key string) string {
	for _, f := range p.fields {
		if f.Key == key {
			return f.Value
		}
	}
	return ""
}

// Type returns the request type discriminator
func (p *Params) Type() api.RequestType {
	return api.RequestType(p.Get(api.FieldType))
}

// Fields returns a copy of the fields in insertion order
func (p *Params) Fields() []Param {
	out := make([]Param, len(p.fields))
	copy(out, p.fields)
	return out
}

// Encode renders the fields as application/x-www-form-urlencoded, keeping their order.
// url.Values would sort the keys.
func (p *Params) Encode() string {
	var b strings.Builder
	for i, f := range p.fields {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(f.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(f.Value))
	}
	return b.String()
}
