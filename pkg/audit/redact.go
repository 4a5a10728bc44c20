package audit

import (
	"fmt"
	"strings"
)

// maxPayloadDepth bounds the redaction walk. Well-formed JSON payloads sit
// far below this; hitting the bound means the producer handed us a cyclic
// or degenerate structure.
const maxPayloadDepth = 200

// MalformedPayloadError indicates a payload that cannot be redacted: the
// structure nests beyond any plausible JSON document, which in practice
// means a cycle introduced by the producer.
type MalformedPayloadError struct {
	Depth int
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed payload: nesting exceeds %d levels", e.Depth)
}

// Redactor masks sensitive values in arbitrary JSON-like payloads. A value
// is masked when its key, lowercased, contains any configured fragment at
// any nesting depth. The input is never mutated; Redact returns a deep copy.
type Redactor struct {
	fragments []string
	mask      string
}

// NewRedactor builds a Redactor from the configured sensitive-key fragments.
// Matching is case-insensitive substring, so "password" also masks
// "currentPassword" and "PASSWORD_HASH".
func NewRedactor(fragments []string) *Redactor {
	lowered := make([]string, 0, len(fragments))
	for _, f := range fragments {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			lowered = append(lowered, f)
		}
	}
	return &Redactor{fragments: lowered, mask: MaskToken}
}

// Redact returns a structurally identical deep copy of payload with every
// sensitive value replaced by the mask token. Scalars, numbers, booleans
// and nil pass through unchanged. Redact is idempotent: masked values
// re-scanned under the same fragments stay masked.
func (r *Redactor) Redact(payload interface{}) (interface{}, error) {
	return r.redactValue(payload, 0)
}

// Sensitive reports whether a key name matches the redaction set.
func (r *Redactor) Sensitive(key string) bool {
	lowered := strings.ToLower(key)
	for _, f := range r.fragments {
		if strings.Contains(lowered, f) {
			return true
		}
	}
	return false
}

func (r *Redactor) redactValue(value interface{}, depth int) (interface{}, error) {
	if depth > maxPayloadDepth {
		return nil, &MalformedPayloadError{Depth: maxPayloadDepth}
	}

	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, inner := range v {
			if r.Sensitive(key) {
				out[key] = r.mask
				continue
			}
			redacted, err := r.redactValue(inner, depth+1)
			if err != nil {
				return nil, err
			}
			out[key] = redacted
		}
		return out, nil

	case []interface{}:
		// Arrays carry no keys of their own; only the keys of constituent
		// objects matter.
		out := make([]interface{}, len(v))
		for i, inner := range v {
			redacted, err := r.redactValue(inner, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = redacted
		}
		return out, nil

	default:
		return v, nil
	}
}
