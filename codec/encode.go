package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"math"
	"strconv"

	"github.com/pkg/errors"

	"erp-rpc/message"
)

// Encode appends v to buf as a <value> element.
func Encode(buf *bytes.Buffer, v message.Value) error {
	buf.WriteString("<value>")
	if err := encodeInner(buf, v); err != nil {
		return err
	}
	buf.WriteString("</value>")
	return nil
}

func encodeInner(buf *bytes.Buffer, v message.Value) error {
	switch t := v.(type) {
	case nil, message.Nil:
		buf.WriteString("<nil/>")
	case message.Int:
		buf.WriteString("<int>")
		buf.WriteString(strconv.FormatInt(int64(t), 10))
		buf.WriteString("</int>")
	case message.Double:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return errors.Wrapf(ErrUnsupportedValue, "double %v", f)
		}
		buf.WriteString("<double>")
		buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
		buf.WriteString("</double>")
	case message.Bool:
		if t {
			buf.WriteString("<boolean>1</boolean>")
		} else {
			buf.WriteString("<boolean>0</boolean>")
		}
	case message.String:
		buf.WriteString("<string>")
		EscapeText(buf, string(t))
		buf.WriteString("</string>")
	case message.Bytes:
		buf.WriteString("<base64>")
		buf.WriteString(base64.StdEncoding.EncodeToString(t))
		buf.WriteString("</base64>")
	case message.Array:
		buf.WriteString("<array><data>")
		for i, item := range t {
			if err := Encode(buf, item); err != nil {
				return errors.Wrapf(err, "array item %d", i)
			}
		}
		buf.WriteString("</data></array>")
	case *message.Struct:
		buf.WriteString("<struct>")
		if t != nil {
			for _, m := range t.Members {
				buf.WriteString("<member><name>")
				EscapeText(buf, m.Name)
				buf.WriteString("</name>")
				if err := Encode(buf, m.Value); err != nil {
					return errors.Wrapf(err, "member %q", m.Name)
				}
				buf.WriteString("</member>")
			}
		}
		buf.WriteString("</struct>")
	default:
		return errors.Wrapf(ErrUnsupportedValue, "%T", v)
	}
	return nil
}

// EscapeText writes s with XML special characters escaped.
func EscapeText(buf *bytes.Buffer, s string) {
	_ = xml.EscapeText(buf, []byte(s)) // writes to bytes.Buffer never fail
}
