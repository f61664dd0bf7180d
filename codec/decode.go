package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/html/charset"

	"erp-rpc/message"
)

var (
	// ErrMalformed marks a document or value that has the wrong shape.
	ErrMalformed = errors.New("malformed XML-RPC document")
	// ErrNoElement is returned by Parse when the input holds no element at all.
	ErrNoElement = errors.New("no XML element found")
)

// Node is one element of a parsed document. Only element names, children
// and character data are kept; attributes, comments and processing
// instructions are dropped.
type Node struct {
	Name     string
	Children []*Node
	text     []byte
}

// Text returns the character data directly inside the element.
func (n *Node) Text() string {
	return string(n.text)
}

// InnerText returns the character data of the element and all its
// descendants, joined by spaces. A nil node has no text.
func (n *Node) InnerText() string {
	if n == nil {
		return ""
	}
	parts := []string{}
	if t := strings.TrimSpace(string(n.text)); t != "" {
		parts = append(parts, t)
	}
	for _, c := range n.Children {
		if t := c.InnerText(); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Child returns the first child element with the given name.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns all child elements with the given name.
func (n *Node) ChildrenNamed(name string) []*Node {
	if n == nil {
		return nil
	}
	var res []*Node
	for _, c := range n.Children {
		if c.Name == name {
			res = append(res, c)
		}
	}
	return res
}

// Path walks down first-matching children, e.g. Path("params", "param", "value").
func (n *Node) Path(names ...string) *Node {
	cur := n
	for _, name := range names {
		cur = cur.Child(name)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Parse reads an XML document and returns its root element.
func Parse(data []byte) (*Node, error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.Strict = false
	d.Entity = xml.HTMLEntity
	d.CharsetReader = charset.NewReaderLabel

	var root *Node
	var stack []*Node
	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(ErrMalformed, "%v", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Name: t.Name.Local}
			switch {
			case len(stack) > 0:
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			case root == nil:
				root = n
			}
			// elements after the root are walked but not attached
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				top.text = append(top.text, t...)
			}
		}
	}

	if root == nil {
		return nil, ErrNoElement
	}
	return root, nil
}

// Decode interprets a <value> element.
//
// The type is taken from the first element child. A <value> without one
// holds a bare string if it has non-blank text and nil otherwise; an
// unrecognised type element also decodes to nil. dateTime.iso8601 is passed
// through as its string form.
func Decode(n *Node) (message.Value, error) {
	if n == nil {
		return nil, errors.Wrap(ErrMalformed, "missing value")
	}

	if len(n.Children) == 0 {
		if strings.TrimSpace(n.Text()) == "" {
			return message.Nil{}, nil
		}
		return message.String(n.Text()), nil
	}

	el := n.Children[0]
	switch el.Name {
	case "int", "i4", "i8":
		i, err := strconv.ParseInt(strings.TrimSpace(el.Text()), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformed, "bad %s %q", el.Name, el.Text())
		}
		return message.Int(i), nil
	case "double":
		f, err := strconv.ParseFloat(strings.TrimSpace(el.Text()), 64)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformed, "bad double %q", el.Text())
		}
		return message.Double(f), nil
	case "boolean":
		switch strings.TrimSpace(el.Text()) {
		case "1", "true":
			return message.Bool(true), nil
		case "0", "false":
			return message.Bool(false), nil
		}
		return nil, errors.Wrapf(ErrMalformed, "bad boolean %q", el.Text())
	case "string":
		return message.String(el.Text()), nil
	case "base64":
		raw := strings.Join(strings.Fields(el.Text()), "")
		b, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformed, "bad base64: %v", err)
		}
		return message.Bytes(b), nil
	case "nil":
		return message.Nil{}, nil
	case "array":
		return decodeArray(el)
	case "struct":
		return decodeStruct(el)
	}

	if strings.HasPrefix(el.Name, "dateTime") {
		return message.String(strings.TrimSpace(el.Text())), nil
	}
	return message.Nil{}, nil
}

func decodeArray(el *Node) (message.Value, error) {
	values := el.Child("data").ChildrenNamed("value")
	res := make(message.Array, 0, len(values))
	for i, v := range values {
		item, err := Decode(v)
		if err != nil {
			return nil, errors.Wrapf(err, "array item %d", i)
		}
		res = append(res, item)
	}
	return res, nil
}

func decodeStruct(el *Node) (message.Value, error) {
	res := &message.Struct{}
	for _, m := range el.ChildrenNamed("member") {
		name := m.Child("name")
		if name == nil {
			return nil, errors.Wrap(ErrMalformed, "struct member without name")
		}
		val := message.Value(message.Nil{})
		if vn := m.Child("value"); vn != nil {
			var err error
			if val, err = Decode(vn); err != nil {
				return nil, errors.Wrapf(err, "member %q", name.Text())
			}
		}
		res.Members = append(res.Members, message.Member{Name: name.Text(), Value: val})
	}
	return res, nil
}
