// Package codec converts message.Value trees to and from XML-RPC <value>
// elements.
//
// Encoding is strict and deterministic: struct members keep their order and
// doubles use the shortest representation that parses back to the same
// float64. Decoding is lenient: it builds a small element tree with a
// non-strict XML decoder (HTML entities, mismatched end tags and declared
// non-UTF-8 charsets are accepted) and then interprets <value> nodes by the
// tag of their first element child.
//
//	<value><array><data>            Array{
//	  <value><int>1</int></value>     Int(1),
//	  <value><string>ok</string>      String("ok"),
//	</data></array></value>         }
package codec

import "github.com/pkg/errors"

// ErrUnsupportedValue is returned when a value cannot be represented in
// XML-RPC, e.g. NaN or an unknown Value implementation.
var ErrUnsupportedValue = errors.New("value not representable in XML-RPC")
