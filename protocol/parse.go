package protocol

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"erp-rpc/codec"
	"erp-rpc/message"
	"erp-rpc/rpcerr"
)

var utf8BOM = []byte("\xef\xbb\xbf")

// LooksLikeHTML reports whether body starts with an HTML document marker
// (<!DOCTYPE or <html), ignoring leading whitespace, a BOM and case.
func LooksLikeHTML(body []byte) bool {
	b := bytes.TrimLeft(bytes.TrimPrefix(bytes.TrimSpace(body), utf8BOM), " \t\r\n")
	if len(b) > 16 {
		b = b[:16]
	}
	head := strings.ToLower(string(b))
	return strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<html")
}

// UnmarshalResponse decodes a methodResponse body.
//
// A fault is returned as *rpcerr.Fault whatever else the document holds.
// Every other failure is a *rpcerr.TransportError: KindEmptyBody,
// KindHTMLBody (never parsed), KindMalformed for unparsable documents or a
// wrong root, and KindNoValue when params/param/value is missing.
func UnmarshalResponse(body []byte) (message.Value, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &rpcerr.TransportError{Kind: rpcerr.KindEmptyBody}
	}
	if LooksLikeHTML(body) {
		return nil, &rpcerr.TransportError{Kind: rpcerr.KindHTMLBody, Msg: "server returned an HTML page"}
	}

	root, err := codec.Parse(body)
	if err != nil {
		return nil, &rpcerr.TransportError{Kind: rpcerr.KindMalformed, Err: err}
	}
	if root.Name != "methodResponse" {
		return nil, &rpcerr.TransportError{Kind: rpcerr.KindMalformed, Msg: fmt.Sprintf("unexpected root element <%s>", root.Name)}
	}

	if fault := root.Child("fault"); fault != nil {
		return nil, rpcerr.NewFault(faultValue(fault))
	}

	valueNode := root.Path("params", "param", "value")
	if valueNode == nil {
		return nil, &rpcerr.TransportError{Kind: rpcerr.KindNoValue}
	}
	v, err := codec.Decode(valueNode)
	if err != nil {
		return nil, &rpcerr.TransportError{Kind: rpcerr.KindMalformed, Err: err}
	}
	return v, nil
}

// faultValue decodes a fault payload as far as it goes. Struct members that
// fail to decode are kept as their raw text, and a fault without a usable
// struct becomes the raw text of the whole element.
func faultValue(fault *codec.Node) message.Value {
	vn := fault.Child("value")
	if v, err := codec.Decode(vn); err == nil {
		return v
	}
	st := vn.Child("struct")
	if st == nil {
		return message.String(fault.InnerText())
	}
	res := &message.Struct{}
	for _, m := range st.ChildrenNamed("member") {
		name := m.Child("name")
		if name == nil {
			continue
		}
		v, err := codec.Decode(m.Child("value"))
		if err != nil {
			v = message.String(m.Child("value").InnerText())
		}
		res.Set(name.Text(), v)
	}
	return res
}

// UnmarshalCall decodes a methodCall body into its method name and params.
func UnmarshalCall(body []byte) (string, []message.Value, error) {
	root, err := codec.Parse(body)
	if err != nil {
		return "", nil, err
	}
	if root.Name != "methodCall" {
		return "", nil, errors.Wrapf(codec.ErrMalformed, "unexpected root element <%s>", root.Name)
	}
	nameNode := root.Child("methodName")
	if nameNode == nil || strings.TrimSpace(nameNode.Text()) == "" {
		return "", nil, errors.Wrap(codec.ErrMalformed, "missing methodName")
	}
	method := strings.TrimSpace(nameNode.Text())

	var params []message.Value
	for i, p := range root.Child("params").ChildrenNamed("param") {
		v, err := codec.Decode(p.Child("value"))
		if err != nil {
			return "", nil, errors.Wrapf(err, "param %d", i)
		}
		params = append(params, v)
	}
	return method, params, nil
}
