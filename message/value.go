package message

// Kind identifies the XML-RPC type carried by a Value.
type Kind int

const (
	KindNil Kind = iota
	KindInt
	KindDouble
	KindBool
	KindString
	KindBytes
	KindArray
	KindStruct
)

var kindNames = [...]string{"nil", "int", "double", "boolean", "string", "base64", "array", "struct"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Value is one XML-RPC value. The set of implementations is closed:
// Int, Double, Bool, String, Bytes, Nil, Array and *Struct.
type Value interface {
	Kind() Kind
	isValue()
}

type (
	Int    int64
	Double float64
	Bool   bool
	String string
	Bytes  []byte
	Nil    struct{}
	Array  []Value
)

func (Int) Kind() Kind    { return KindInt }
func (Double) Kind() Kind { return KindDouble }
func (Bool) Kind() Kind   { return KindBool }
func (String) Kind() Kind { return KindString }
func (Bytes) Kind() Kind  { return KindBytes }
func (Nil) Kind() Kind    { return KindNil }
func (Array) Kind() Kind  { return KindArray }

func (Int) isValue()    {}
func (Double) isValue() {}
func (Bool) isValue()   {}
func (String) isValue() {}
func (Bytes) isValue()  {}
func (Nil) isValue()    {}
func (Array) isValue()  {}

// Member is a single named entry of a Struct.
type Member struct {
	Name  string
	Value Value
}

// Struct is an XML-RPC struct. Members keep their insertion order, which is
// also the order they are written on the wire.
type Struct struct {
	Members []Member
}

func (*Struct) Kind() Kind { return KindStruct }
func (*Struct) isValue()   {}

// NewStruct builds a struct from members in the given order.
func NewStruct(members ...Member) *Struct {
	return &Struct{Members: members}
}

// Len returns the number of members; a nil struct is empty.
func (s *Struct) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Members)
}

// Get returns the value of the first member with the given name.
func (s *Struct) Get(name string) (Value, bool) {
	if s == nil {
		return nil, false
	}
	for _, m := range s.Members {
		if m.Name == name {
			return m.Value, true
		}
	}
	return nil, false
}

// Set replaces the value of an existing member or appends a new one.
func (s *Struct) Set(name string, v Value) *Struct {
	for i := range s.Members {
		if s.Members[i].Name == name {
			s.Members[i].Value = v
			return s
		}
	}
	s.Members = append(s.Members, Member{Name: name, Value: v})
	return s
}

// Keys returns member names in wire order.
func (s *Struct) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.Members))
	for _, m := range s.Members {
		keys = append(keys, m.Name)
	}
	return keys
}

// Truthy reports whether v would count as true for the remote server:
// zero numbers, false, nil, empty strings and empty collections are falsy.
func Truthy(v Value) bool {
	switch t := v.(type) {
	case nil, Nil:
		return false
	case Int:
		return t != 0
	case Double:
		return t != 0
	case Bool:
		return bool(t)
	case String:
		return t != ""
	case Bytes:
		return len(t) > 0
	case Array:
		return len(t) > 0
	case *Struct:
		return t.Len() > 0
	}
	return false
}
