package message

import "strings"

// Headers is a string-keyed, string-valued header map. Keys keep the case the
// caller supplied; lookups and stripping are case-insensitive.
type Headers map[string]string

// Get returns the value for key, matching case-insensitively. An exact match
// wins over a folded one.
func (h Headers) Get(key string) (string, bool) {
	if v, ok := h[key]; ok {
		return v, true
	}
	for k, v := range h {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// First returns the first non-blank value among keys, in order.
func (h Headers) First(keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := h.Get(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// Clone returns a copy of h. A nil map clones to an empty one.
func (h Headers) Clone() Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Merge returns a new map holding h overlaid with override. Override values
// win, including over keys that differ from h only in case.
func (h Headers) Merge(override Headers) Headers {
	out := h.Clone()
	for k, v := range override {
		for existing := range out {
			if existing != k && strings.EqualFold(existing, k) {
				delete(out, existing)
			}
		}
		out[k] = v
	}
	return out
}

// Without returns a copy of h minus the given keys, compared case-insensitively.
func (h Headers) Without(keys ...string) Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		if !containsFold(keys, k) {
			out[k] = v
		}
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
