// Package httprelay forwards relay requests as HTTP calls to the target named
// in their headers.
package httprelay

import (
	"net/http"
	"strings"

	"github.com/xraph/courier/message"
)

// URLKeys are the headers consulted for the target URL, in order.
var URLKeys = []string{"url", "target-url", "endpoint", "target", "destination"}

// MetadataKeys are consumed by the relay and never forwarded.
var MetadataKeys = []string{"url", "target-url", "endpoint", "target", "destination", "method", "sender", "group-id", "groupId"}

// DefaultMethod is used when no method header is given.
const DefaultMethod = http.MethodPost

var methods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodOptions: {},
	http.MethodTrace:   {},
}

// Request is an HTTP relay request: routing and forwarding headers plus an
// opaque body.
type Request struct {
	Headers message.Headers `json:"headers"`
	Body    string          `json:"body"`
}

// Target returns the first non-blank URL header.
func (r *Request) Target() (string, bool) {
	return r.Headers.First(URLKeys...)
}

// Method returns the upper-cased method header, POST when absent.
func (r *Request) Method() string {
	m, ok := r.Headers.First("method")
	if !ok {
		return DefaultMethod
	}
	return strings.ToUpper(m)
}

// ValidMethod reports whether m is a standard HTTP method.
func ValidMethod(m string) bool {
	_, ok := methods[m]
	return ok
}

// NewRecord maps r to its canonical message record.
func (r *Request) NewRecord() *message.Record {
	rec := message.NewRecord(message.ProtocolHTTP)
	rec.Method = r.Method()
	rec.URL, _ = r.Target()
	rec.Headers = r.Headers.Clone()
	rec.Body = r.Body
	rec.Sender, _ = r.Headers.First("sender")
	rec.GroupID, _ = r.Headers.First("group-id", "groupId")
	return rec
}
