// Package validate checks inbound request bodies against JSON Schemas before
// they are decoded into request types.
package validate

import (
	"bytes"
	"embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"

	"github.com/xraph/courier"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Kind names one request body shape.
type Kind string

const (
	HTTPSend      Kind = "http_send"
	QueuePublish  Kind = "queue_publish"
	SocketPublish Kind = "socket_publish"
	BrokerCreate  Kind = "broker_create"
)

// Kinds lists every known body shape.
var Kinds = []Kind{HTTPSend, QueuePublish, SocketPublish, BrokerCreate}

// Validator validates request bodies. Schemas are compiled on first use and
// cached for the life of the validator.
type Validator struct {
	mu    sync.RWMutex
	cache map[Kind]*jsonschema.Schema
}

// New creates a validator.
func New() *Validator {
	return &Validator{cache: make(map[Kind]*jsonschema.Schema)}
}

// Validate checks raw against the schema for k. Violations are reported
// as courier.ValidationErrors keyed by JSON field path.
func (v *Validator) Validate(k Kind, raw []byte) error {
	schema, err := v.compile(k)
	if err != nil {
		return err
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return courier.ValidationErrors{{Field: "body", Message: "malformed JSON: " + err.Error()}}
	}

	if err := schema.Validate(doc); err != nil {
		ve, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return fmt.Errorf("validate %s: %w", k, err)
		}
		return fieldErrors(ve)
	}
	return nil
}

func (v *Validator) compile(k Kind) (*jsonschema.Schema, error) {
	v.mu.RLock()
	if cached, ok := v.cache[k]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	raw, err := schemaFS.ReadFile("schemas/" + string(k) + ".json")
	if err != nil {
		return nil, fmt.Errorf("unknown request kind %q", k)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse %s schema: %w", k, err)
	}

	url := "courier://schema/" + string(k) + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add %s schema: %w", k, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", k, err)
	}

	v.mu.Lock()
	v.cache[k] = compiled
	v.mu.Unlock()
	return compiled, nil
}

// fieldErrors flattens the leaf causes of ve into one entry per field.
func fieldErrors(ve *jsonschema.ValidationError) courier.ValidationErrors {
	var out courier.ValidationErrors
	seen := map[string]bool{}

	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, c := range e.Causes {
				walk(c)
			}
			return
		}
		field := fieldName(e)
		if seen[field] {
			return
		}
		seen[field] = true
		out = append(out, courier.ValidationError{Field: field, Message: leafMessage(e)})
	}
	walk(ve)

	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	if len(out) == 0 {
		out = courier.ValidationErrors{{Field: "body", Message: ve.Error()}}
	}
	return out
}

// fieldName is the dotted instance path. A missing required property is
// reported against the property itself rather than its parent.
func fieldName(e *jsonschema.ValidationError) string {
	path := append([]string(nil), e.InstanceLocation...)
	if req, ok := e.ErrorKind.(*kind.Required); ok && len(req.Missing) > 0 {
		path = append(path, req.Missing[0])
	}
	if len(path) == 0 {
		return "body"
	}
	return strings.Join(path, ".")
}

func leafMessage(e *jsonschema.ValidationError) string {
	out := e.BasicOutput()
	for _, u := range out.Errors {
		if u.Error != nil {
			return fmt.Sprint(u.Error)
		}
	}
	if out.Error != nil {
		return fmt.Sprint(out.Error)
	}
	return e.Error()
}
