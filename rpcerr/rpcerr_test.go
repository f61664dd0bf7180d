package rpcerr

import (
	"fmt"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"erp-rpc/message"
)

func TestTransportErrorMessage(t *testing.T) {
	err := &TransportError{Kind: KindStatus, URL: "http://erp/xmlrpc/2/object", StatusCode: 502, Excerpt: "bad gateway", DiagID: "abc"}
	assert.Equal(t, `bad status for http://erp/xmlrpc/2/object (status 502), body: "bad gateway" [diag abc]`, err.Error())
	assert.False(t, err.Timeout())

	cause := errors.New("dial tcp: i/o timeout")
	err = &TransportError{Kind: KindTimeout, Msg: "connect timeout", Err: cause}
	assert.Equal(t, "timeout: connect timeout: dial tcp: i/o timeout", err.Error())
	assert.True(t, err.Timeout())
	assert.ErrorIs(t, err, cause)
}

func TestKinds(t *testing.T) {
	assert.Equal(t, "no value found in response", KindNoValue.String())
	assert.Equal(t, "html body", KindHTMLBody.String())
	assert.Equal(t, "unknown", Kind(42).String())
}

func TestNewFault(t *testing.T) {
	payload := message.NewStruct(
		message.Member{Name: "faultCode", Value: message.Int(1)},
		message.Member{Name: "faultString", Value: message.String("Access Denied")},
	)
	f := NewFault(payload)
	assert.Equal(t, int64(1), f.Code)
	assert.Equal(t, "Access Denied", f.String)
	assert.Same(t, payload, f.Payload)
	assert.Equal(t, "rpc fault 1: Access Denied", f.Error())

	f = NewFault(message.NewStruct(message.Member{Name: "faultCode", Value: message.String(" 3 ")}))
	assert.Equal(t, int64(3), f.Code)
	assert.Equal(t, "", f.String)

	f = NewFault(message.String("boom"))
	assert.Equal(t, "boom", f.String)
	v, ok := f.Payload.Get("faultString")
	assert.True(t, ok)
	assert.Equal(t, message.String("boom"), v)
}

func TestAuthErrorHidesPassword(t *testing.T) {
	err := &AuthError{Username: "admin", Database: "prod"}
	assert.Equal(t, `authentication failed for user "admin" on database "prod"`, err.Error())
}

func TestPredicates(t *testing.T) {
	wrapped := errors.Wrap(&TransportError{Kind: KindEmptyBody}, "execute")
	assert.True(t, IsTransport(wrapped))
	assert.False(t, IsFault(wrapped))

	assert.True(t, IsFault(fmt.Errorf("call: %w", &Fault{Code: 2})))
	assert.True(t, IsAuth(errors.WithStack(&AuthError{})))
	assert.False(t, IsAuth(errors.New("x")))
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", Excerpt([]byte("short")))

	long := strings.Repeat("a", ExcerptSize+50)
	assert.Equal(t, strings.Repeat("a", ExcerptSize)+"...", Excerpt([]byte(long)))

	// multi-byte rune straddling the cut is dropped, not split
	body := []byte(strings.Repeat("a", ExcerptSize-1) + "é" + "tail")
	got := Excerpt(body)
	assert.Equal(t, strings.Repeat("a", ExcerptSize-1)+"...", got)
}
