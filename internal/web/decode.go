package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxBodyBytes = 64 << 10

// objectSchema describes the keys a strict POST body may carry.
type objectSchema struct {
	allowed  []string
	required []string
	// nullable keys may be sent as null.
	nullable []string
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if ct := strings.TrimSpace(r.Header.Get("Content-Type")); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return nil, errUnsupportedMediaType
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}
	return body, nil
}

var errUnsupportedMediaType = errors.New("content-type must be application/json")

// decodeStrict rejects duplicate, unknown, missing and null keys before
// decoding body into out.
func decodeStrict(body []byte, schema objectSchema, out any) error {
	dec := json.NewDecoder(bytes.NewReader(body))

	allowed := make(map[string]struct{}, len(schema.allowed))
	for _, k := range schema.allowed {
		allowed[k] = struct{}{}
	}
	nullable := make(map[string]struct{}, len(schema.nullable))
	for _, k := range schema.nullable {
		nullable[k] = struct{}{}
	}
	seen := make(map[string]struct{}, len(schema.allowed))

	// First pass: stream tokens to enforce strict object rules and detect duplicate keys.
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return errors.New("invalid json: expected object")
	}

	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return fmt.Errorf("invalid json: %w", err)
		}
		key, ok := kt.(string)
		if !ok {
			return errors.New("invalid json: expected string key")
		}
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("invalid json: unknown key %q", key)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("invalid json: duplicate key %q", key)
		}
		seen[key] = struct{}{}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("invalid json: %w", err)
		}
		if _, ok := nullable[key]; !ok && strings.TrimSpace(string(raw)) == "null" {
			return fmt.Errorf("invalid json: %q cannot be null", key)
		}
	}

	end, err := dec.Token()
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	delim, ok = end.(json.Delim)
	if !ok || delim != '}' {
		return errors.New("invalid json: expected end of object")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid json: trailing data")
	}

	for _, k := range schema.required {
		if _, ok := seen[k]; !ok {
			return fmt.Errorf("invalid json: missing required key %q", k)
		}
	}

	// Second pass: decode into the typed struct.
	dec2 := json.NewDecoder(bytes.NewReader(body))
	dec2.DisallowUnknownFields()
	if err := dec2.Decode(out); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

// decodeLenient is used for sensor payloads, which are forwarded as the
// browser reports them and may carry fields the engine ignores.
func decodeLenient(body []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid json: trailing data")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

type errorResponse struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}
