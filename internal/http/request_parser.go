// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data.
// Clients send fields as a JSON object, as a form, or as query parameters,
// and every handler reads them the same way.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"pocketmoney/internal/core"
)

// maxBodyBytes caps request bodies; no endpoint takes more than a few fields.
const maxBodyBytes = 64 << 10

// RequestBodyParser handles different content types for request body parsing.
// Lookups fall back to the URL query, which is how older clients send amounts.
type RequestBodyParser struct {
	body        []byte
	contentType string
	query       url.Values
	jsonData    map[string]interface{}
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads the body once and stores it for subsequent parsing.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
		query:       r.URL.Query(),
	}

	if r.Body != nil {
		p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if p.err == nil && len(p.body) > maxBodyBytes {
			p.err = fmt.Errorf("request body exceeds %d bytes", maxBodyBytes)
		}
	}
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	trimmed := bytes.TrimSpace(p.body)
	if len(trimmed) == 0 {
		p.formData = url.Values{}
		return nil
	}

	// Try JSON first if content looks like JSON
	if trimmed[0] == '{' || strings.HasPrefix(p.contentType, "application/json") {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		p.jsonData = make(map[string]interface{})
		if err := dec.Decode(&p.jsonData); err != nil {
			p.err = fmt.Errorf("invalid JSON body: %w", err)
			return p.err
		}
		return nil
	}

	// Fall back to form parsing
	p.formData, p.err = url.ParseQuery(string(trimmed))
	if p.err != nil {
		p.err = fmt.Errorf("invalid form body: %w", p.err)
	}
	return p.err
}

// Lookup returns the value for key and whether it was sent at all. A JSON
// null counts as sent with an empty value.
func (p *RequestBodyParser) Lookup(key string) (string, bool) {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return strings.TrimSpace(sanitizeInput(stringValue(val))), true
		}
	}
	if p.formData != nil {
		if vals, ok := p.formData[key]; ok && len(vals) > 0 {
			return strings.TrimSpace(sanitizeInput(vals[0])), true
		}
	}
	if vals, ok := p.query[key]; ok && len(vals) > 0 {
		return strings.TrimSpace(sanitizeInput(vals[0])), true
	}
	return "", false
}

// Get returns a string value from the parsed data (JSON, form or query).
func (p *RequestBodyParser) Get(key string) string {
	v, _ := p.Lookup(key)
	return v
}

// Money parses a required signed amount.
func (p *RequestBodyParser) Money(key string) (core.Money, error) {
	raw, ok := p.Lookup(key)
	if !ok || raw == "" {
		return core.Money{}, fmt.Errorf("%s is required: %w", key, core.ErrInvalidAmount)
	}
	m, err := core.ParseMoney(raw)
	if err != nil {
		return core.Money{}, fmt.Errorf("%s %q: %w", key, raw, err)
	}
	return m, nil
}

// OptionalMoney parses an amount only when it was sent.
func (p *RequestBodyParser) OptionalMoney(key string) (*core.Money, error) {
	if _, ok := p.Lookup(key); !ok {
		return nil, nil
	}
	m, err := p.Money(key)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Date parses an optional YYYY-MM-DD value. sent reports whether the key was
// present; an empty value means an explicit clear.
func (p *RequestBodyParser) Date(key string) (d *core.Date, sent bool, err error) {
	raw, ok := p.Lookup(key)
	if !ok {
		return nil, false, nil
	}
	if raw == "" {
		return nil, true, nil
	}
	parsed, err := core.ParseDate(raw)
	if err != nil {
		return nil, true, err
	}
	return &parsed, true, nil
}

// stringValue converts an interface{} to string.
func stringValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

var errInvalidID = errors.New("invalid id")

// PathID reads a positive integer path value such as {child_id}.
func PathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s %q", errInvalidID, name, raw)
	}
	return id, nil
}

// QueryInt reads a non-negative integer query parameter, or def when absent.
func QueryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

// ParseBodyOrFail parses the request body and returns an error response on
// failure. Returns nil on success.
func ParseBodyOrFail(p *RequestBodyParser) *JSONResponseBuilder {
	if err := p.Parse(); err != nil {
		return BadRequestError("Invalid request body")
	}
	return nil
}
