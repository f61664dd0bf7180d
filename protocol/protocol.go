// Package protocol builds and parses XML-RPC envelopes.
//
// A request is a methodCall document, a reply is a methodResponse holding
// either one param or a fault:
//
//	<methodCall>                        <methodResponse>
//	  <methodName>execute_kw</...>        <params><param><value>…</value></param></params>
//	  <params>                          </methodResponse>
//	    <param><value>db</value></param>
//	    …                               <methodResponse>
//	  </params>                           <fault><value><struct>faultCode, faultString</struct></value></fault>
//	</methodCall>                       </methodResponse>
//
// The ERP's execute_kw takes seven params: db, uid, password, model,
// method, positional args and keyword args. The keyword args must always
// be a struct, even when empty.
package protocol

import (
	"bytes"

	"github.com/pkg/errors"

	"erp-rpc/codec"
	"erp-rpc/message"
)

const xmlHeader = `<?xml version="1.0"?>` + "\n"

const (
	MethodAuthenticate = "authenticate"
	MethodVersion      = "version"
	MethodExecuteKw    = "execute_kw"
)

// MarshalCall encodes a methodCall document.
func MarshalCall(method string, params []message.Value) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	buf.WriteString("<methodCall><methodName>")
	codec.EscapeText(&buf, method)
	buf.WriteString("</methodName><params>")
	for i, p := range params {
		buf.WriteString("<param>")
		if err := codec.Encode(&buf, p); err != nil {
			return nil, errors.Wrapf(err, "param %d of %s", i, method)
		}
		buf.WriteString("</param>")
	}
	buf.WriteString("</params></methodCall>")
	return buf.Bytes(), nil
}

// MarshalResponse encodes a successful methodResponse.
func MarshalResponse(v message.Value) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	buf.WriteString("<methodResponse><params><param>")
	if err := codec.Encode(&buf, v); err != nil {
		return nil, err
	}
	buf.WriteString("</param></params></methodResponse>")
	return buf.Bytes(), nil
}

// MarshalFault encodes a fault methodResponse.
func MarshalFault(code int64, msg string) []byte {
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	buf.WriteString("<methodResponse><fault>")
	// a struct of Int and String always encodes
	_ = codec.Encode(&buf, message.NewStruct(
		message.Member{Name: "faultCode", Value: message.Int(code)},
		message.Member{Name: "faultString", Value: message.String(msg)},
	))
	buf.WriteString("</fault></methodResponse>")
	return buf.Bytes()
}

// AuthenticateParams returns the params of the common authenticate call.
func AuthenticateParams(db, username, password string) []message.Value {
	return []message.Value{
		message.String(db),
		message.String(username),
		message.String(password),
		&message.Struct{},
	}
}

// ExecuteParams returns the params of an execute_kw call for c. Missing
// args become an empty array and missing kwargs an empty struct.
func ExecuteParams(db string, uid int64, password string, c message.Call) []message.Value {
	args := c.Args
	if args == nil {
		args = message.Array{}
	}
	kwargs := c.Kwargs
	if kwargs == nil {
		kwargs = &message.Struct{}
	}
	return []message.Value{
		message.String(db),
		message.Int(uid),
		message.String(password),
		message.String(c.Model),
		message.String(c.Method),
		args,
		kwargs,
	}
}
