// Package rpcerr holds the error types returned by the ERP client.
//
//   - *TransportError: the exchange failed below XML-RPC (network, status,
//     non-XML body, unusable document).
//   - *Fault: the server answered with an XML-RPC fault.
//   - *AuthError: authenticate returned a falsy uid.
package rpcerr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"erp-rpc/message"
)

// Kind classifies a TransportError.
type Kind int

const (
	KindConnection Kind = iota // dial, TLS or read failure
	KindTimeout                // connect or total request timeout
	KindStatus                 // HTTP status other than 200
	KindEmptyBody              // 200 with nothing in it
	KindHTMLBody               // 200 with an HTML page instead of XML
	KindMalformed              // not a methodResponse, unparsable or wrongly shaped
	KindNoValue                // methodResponse without params/param/value
)

var kindNames = map[Kind]string{
	KindConnection: "connection failed",
	KindTimeout:    "timeout",
	KindStatus:     "bad status",
	KindEmptyBody:  "empty body",
	KindHTMLBody:   "html body",
	KindMalformed:  "malformed response",
	KindNoValue:    "no value found in response",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ExcerptSize limits how much of a response body goes into an error message.
const ExcerptSize = 200

// TransportError is an infrastructure failure. It never carries the full
// response body; DiagID points at the stored copy when one was saved.
type TransportError struct {
	Kind       Kind
	URL        string
	StatusCode int
	Excerpt    string // truncated body, only for KindStatus
	DiagID     string
	Msg        string
	Err        error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.URL != "" {
		b.WriteString(" for ")
		b.WriteString(e.URL)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Excerpt != "" {
		fmt.Fprintf(&b, ", body: %q", e.Excerpt)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.DiagID != "" {
		fmt.Fprintf(&b, " [diag %s]", e.DiagID)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the exchange ran out of time.
func (e *TransportError) Timeout() bool { return e.Kind == KindTimeout }

// Fault is an XML-RPC fault returned by the server.
type Fault struct {
	Code    int64
	String  string
	Payload *message.Struct
}

// NewFault builds a Fault from a decoded fault value. faultCode and
// faultString are extracted when present; the full payload is kept.
func NewFault(v message.Value) *Fault {
	f := &Fault{}
	s, ok := v.(*message.Struct)
	if !ok {
		f.Payload = message.NewStruct(message.Member{Name: "faultString", Value: v})
		if str, ok := v.(message.String); ok {
			f.String = string(str)
		}
		return f
	}
	f.Payload = s
	if code, ok := s.Get("faultCode"); ok {
		switch c := code.(type) {
		case message.Int:
			f.Code = int64(c)
		case message.String:
			if n, err := strconv.ParseInt(strings.TrimSpace(string(c)), 10, 64); err == nil {
				f.Code = n
			}
		}
	}
	if str, ok := s.Get("faultString"); ok {
		if ss, ok := str.(message.String); ok {
			f.String = string(ss)
		}
	}
	return f
}

func (f *Fault) Error() string {
	return fmt.Sprintf("rpc fault %d: %s", f.Code, f.String)
}

// AuthError is returned when the server rejects the configured credentials.
type AuthError struct {
	Username string
	Database string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for user %q on database %q", e.Username, e.Database)
}

// Excerpt truncates body to ExcerptSize bytes on a rune boundary.
func Excerpt(body []byte) string {
	if len(body) <= ExcerptSize {
		return string(body)
	}
	cut := ExcerptSize
	for cut > 0 && !isRuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut]) + "..."
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// IsTransport reports whether err wraps a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsFault reports whether err wraps a *Fault.
func IsFault(err error) bool {
	var f *Fault
	return errors.As(err, &f)
}

// IsAuth reports whether err wraps an *AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
