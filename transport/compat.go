package transport

import "strings"

// The ERP's XML-RPC marshaller cannot serialize None. A method that
// finished its work and returned None makes the server answer with a fault
// like "TypeError: cannot marshal None unless allow_none is enabled" even
// though the side effect is committed. The real result is lost; callers
// that need it must read it back.
var marshalNoneSignatures = []string{
	"cannot marshal none",
	"cannot marshal <class 'nonetype'>",
	"cannot marshal <type 'nonetype'>",
}

// IsMarshalNone reports whether err is the server's None-marshalling
// failure. Matching is on the message text, case-insensitive.
func IsMarshalNone(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range marshalNoneSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
