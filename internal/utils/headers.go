package utils

import (
	"encoding/json"
	"net/url"
	"strings"
)

// Headers is a case-insensitive header name -> value mapping. Lookups ignore
// case; Range and MarshalJSON report each name with the casing it was last
// set with.
type Headers struct {
	keys   map[string]string // lowercase -> original casing
	values map[string]string // lowercase -> value
}

func NewHeaders() Headers {
	return Headers{
		keys:   map[string]string{},
		values: map[string]string{},
	}
}

// ParseHeadersJSON decodes a JSON object of header name -> value pairs. The
// input may be percent-encoded once (as it arrives in a query parameter).
func ParseHeadersJSON(raw string) (Headers, error) {
	h := NewHeaders()
	if raw == "" {
		return h, nil
	}

	if decoded, err := url.QueryUnescape(raw); err == nil {
		raw = decoded
	}

	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return h, err
	}

	for k, v := range m {
		h.Set(k, v)
	}
	return h, nil
}

func (h Headers) Set(name, value string) {
	lower := strings.ToLower(name)
	h.keys[lower] = name
	h.values[lower] = value
}

func (h Headers) Get(name string) string {
	return h.values[strings.ToLower(name)]
}

func (h Headers) Has(name string) bool {
	_, ok := h.values[strings.ToLower(name)]
	return ok
}

func (h Headers) Del(name string) {
	lower := strings.ToLower(name)
	delete(h.keys, lower)
	delete(h.values, lower)
}

func (h Headers) Len() int {
	return len(h.values)
}

// Range calls fn for every header with its original casing.
func (h Headers) Range(fn func(name, value string)) {
	for lower, value := range h.values {
		fn(h.keys[lower], value)
	}
}

// Clone returns an independent copy.
func (h Headers) Clone() Headers {
	out := NewHeaders()
	h.Range(func(name, value string) {
		out.Set(name, value)
	})
	return out
}

// MarshalJSON serializes with original casing, so rewritten manifest URLs
// carry the caller's headers verbatim.
func (h Headers) MarshalJSON() ([]byte, error) {
	m := make(map[string]string, len(h.values))
	h.Range(func(name, value string) {
		m[name] = value
	})
	return json.Marshal(m)
}
