package server

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"erp-rpc/message"
	"erp-rpc/rpcerr"
)

// Records is an in-memory model table with the usual ORM methods. Empty
// fields read as false, like on the real server.
//
// Domains are lists of [field, operator, value] leaves joined by AND; the
// operators =, !=, <, <=, >, >=, in, not in, like and ilike are supported.
type Records struct {
	name   string
	fields map[string]string // field name → type, for fields_get and validation

	mu     sync.Mutex
	rows   map[int64]*message.Struct
	nextID int64
}

// NewRecords makes an empty table. fields maps field names to their ERP
// type ("char", "integer", "boolean", ...); "id" and "active" are implied.
func NewRecords(name string, fields map[string]string) *Records {
	f := map[string]string{"id": "integer", "active": "boolean"}
	for k, v := range fields {
		f[k] = v
	}
	return &Records{name: name, fields: f, rows: make(map[int64]*message.Struct)}
}

// Create inserts one record from a struct, or several from an array of
// structs, and returns the new id or ids.
func (m *Records) Create(_ context.Context, args message.Array, _ *message.Struct) (message.Value, error) {
	if len(args) == 0 {
		return nil, m.fault("create() missing values")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	switch vals := args[0].(type) {
	case *message.Struct:
		return m.insert(vals)
	case message.Array:
		ids := make(message.Array, 0, len(vals))
		for _, v := range vals {
			s, ok := v.(*message.Struct)
			if !ok {
				return nil, m.fault("create() expects dicts, got %s", kindOf(v))
			}
			id, err := m.insert(s)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	default:
		return nil, m.fault("create() expects a dict, got %s", kindOf(args[0]))
	}
}

func (m *Records) insert(vals *message.Struct) (message.Value, error) {
	if err := m.checkFields(vals.Keys()); err != nil {
		return nil, err
	}
	m.nextID++
	row := message.NewStruct(message.Member{Name: "id", Value: message.Int(m.nextID)},
		message.Member{Name: "active", Value: message.Bool(true)})
	for _, mb := range vals.Members {
		if mb.Name != "id" {
			row.Set(mb.Name, mb.Value)
		}
	}
	m.rows[m.nextID] = row
	return message.Int(m.nextID), nil
}

// Read returns the requested fields of ids, all fields when none are given.
func (m *Records) Read(_ context.Context, args message.Array, kwargs *message.Struct) (message.Value, error) {
	ids, err := idsArg(args, 0)
	if err != nil {
		return nil, m.fault("read(): %v", err)
	}
	fields := fieldsArg(args, 1, kwargs)
	if err := m.checkFields(fields); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	res := make(message.Array, 0, len(ids))
	for _, id := range ids {
		row, ok := m.rows[id]
		if !ok {
			return nil, m.fault("Record does not exist or has been deleted. (Records: %s(%d,))", m.name, id)
		}
		res = append(res, m.project(row, fields))
	}
	return res, nil
}

// Write updates ids with vals.
func (m *Records) Write(_ context.Context, args message.Array, _ *message.Struct) (message.Value, error) {
	ids, err := idsArg(args, 0)
	if err != nil {
		return nil, m.fault("write(): %v", err)
	}
	if len(args) < 2 {
		return nil, m.fault("write() missing values")
	}
	vals, ok := args[1].(*message.Struct)
	if !ok {
		return nil, m.fault("write() expects a dict, got %s", kindOf(args[1]))
	}
	if err := m.checkFields(vals.Keys()); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.mustExist(ids); err != nil {
		return nil, err
	}
	for _, id := range ids {
		for _, mb := range vals.Members {
			if mb.Name != "id" {
				m.rows[id].Set(mb.Name, mb.Value)
			}
		}
	}
	return message.Bool(true), nil
}

// Unlink deletes ids.
func (m *Records) Unlink(_ context.Context, args message.Array, _ *message.Struct) (message.Value, error) {
	ids, err := idsArg(args, 0)
	if err != nil {
		return nil, m.fault("unlink(): %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.mustExist(ids); err != nil {
		return nil, err
	}
	for _, id := range ids {
		delete(m.rows, id)
	}
	return message.Bool(true), nil
}

// ActionArchive sets active to false on ids and returns None, as many
// action methods of the real server do.
func (m *Records) ActionArchive(_ context.Context, args message.Array, _ *message.Struct) (message.Value, error) {
	ids, err := idsArg(args, 0)
	if err != nil {
		return nil, m.fault("action_archive(): %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.mustExist(ids); err != nil {
		return nil, err
	}
	for _, id := range ids {
		m.rows[id].Set("active", message.Bool(false))
	}
	return nil, nil
}

// Search returns the ids matching a domain, honouring offset and limit.
func (m *Records) Search(_ context.Context, args message.Array, kwargs *message.Struct) (message.Value, error) {
	rows, err := m.match(args, kwargs)
	if err != nil {
		return nil, err
	}
	ids := make(message.Array, 0, len(rows))
	for _, row := range rows {
		id, _ := row.Get("id")
		ids = append(ids, id)
	}
	return ids, nil
}

// SearchCount returns the number of records matching a domain.
func (m *Records) SearchCount(_ context.Context, args message.Array, kwargs *message.Struct) (message.Value, error) {
	domain := domainArg(args, kwargs)
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, err := m.filter(domain)
	if err != nil {
		return nil, err
	}
	return message.Int(len(rows)), nil
}

// SearchRead combines search and read.
func (m *Records) SearchRead(_ context.Context, args message.Array, kwargs *message.Struct) (message.Value, error) {
	fields := fieldsArg(args, 1, kwargs)
	if err := m.checkFields(fields); err != nil {
		return nil, err
	}
	rows, err := m.match(args, kwargs)
	if err != nil {
		return nil, err
	}
	res := make(message.Array, 0, len(rows))
	for _, row := range rows {
		res = append(res, m.project(row, fields))
	}
	return res, nil
}

// FieldsGet describes the fields of the model. kwargs["attributes"]
// limits which attributes are returned per field.
func (m *Records) FieldsGet(_ context.Context, _ message.Array, kwargs *message.Struct) (message.Value, error) {
	var attrs map[string]bool
	if v, ok := kwargs.Get("attributes"); ok {
		list, _ := v.(message.Array)
		attrs = make(map[string]bool, len(list))
		for _, a := range list {
			if s, ok := a.(message.String); ok {
				attrs[string(s)] = true
			}
		}
	}

	names := make([]string, 0, len(m.fields))
	for k := range m.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	res := &message.Struct{}
	for _, name := range names {
		desc := &message.Struct{}
		for _, mb := range []message.Member{
			{Name: "type", Value: message.String(m.fields[name])},
			{Name: "string", Value: message.String(fieldLabel(name))},
			{Name: "readonly", Value: message.Bool(name == "id")},
		} {
			if attrs == nil || attrs[mb.Name] {
				desc.Members = append(desc.Members, mb)
			}
		}
		res.Set(name, desc)
	}
	return res, nil
}

// match filters by domain and applies offset and limit, under lock
func (m *Records) match(args message.Array, kwargs *message.Struct) ([]*message.Struct, error) {
	domain := domainArg(args, kwargs)
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, err := m.filter(domain)
	if err != nil {
		return nil, err
	}
	if v, ok := kwargs.Get("offset"); ok {
		if off, ok := v.(message.Int); ok && off > 0 {
			if int(off) >= len(rows) {
				return nil, nil
			}
			rows = rows[off:]
		}
	}
	if v, ok := kwargs.Get("limit"); ok {
		if lim, ok := v.(message.Int); ok && lim > 0 && int(lim) < len(rows) {
			rows = rows[:lim]
		}
	}
	return rows, nil
}

// filter returns copies of rows matching domain, ordered by id. Archived
// rows are left out unless the domain filters on active itself.
func (m *Records) filter(domain message.Array) ([]*message.Struct, error) {
	withArchived := mentionsField(domain, "active")
	ids := make([]int64, 0, len(m.rows))
	for id := range m.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	res := make([]*message.Struct, 0, len(ids))
	for _, id := range ids {
		row := m.rows[id]
		if active, _ := row.Get("active"); active == message.Bool(false) && !withArchived {
			continue
		}
		ok, err := m.matchDomain(row, domain)
		if err != nil {
			return nil, err
		}
		if ok {
			res = append(res, message.NewStruct(append([]message.Member(nil), row.Members...)...))
		}
	}
	return res, nil
}

func mentionsField(domain message.Array, field string) bool {
	for _, term := range domain {
		if t, ok := term.(message.Array); ok && len(t) > 0 && t[0] == message.String(field) {
			return true
		}
	}
	return false
}

func (m *Records) matchDomain(row *message.Struct, domain message.Array) (bool, error) {
	for _, term := range domain {
		switch t := term.(type) {
		case message.String:
			if t != "&" {
				return false, m.fault("unsupported domain operator %q", string(t))
			}
		case message.Array:
			if len(t) != 3 {
				return false, m.fault("invalid domain term %v", message.ToNative(t))
			}
			field, _ := t[0].(message.String)
			op, _ := t[1].(message.String)
			if err := m.checkFields([]string{string(field)}); err != nil {
				return false, err
			}
			ok, err := m.compare(fieldValue(row, string(field)), string(op), t[2])
			if err != nil || !ok {
				return false, err
			}
		default:
			return false, m.fault("invalid domain term %v", message.ToNative(term))
		}
	}
	return true, nil
}

func (m *Records) compare(have message.Value, op string, want message.Value) (bool, error) {
	switch op {
	case "=":
		return equal(have, want), nil
	case "!=":
		return !equal(have, want), nil
	case "in", "not in":
		list, ok := want.(message.Array)
		if !ok {
			return false, m.fault("operator %q expects a list", op)
		}
		found := false
		for _, v := range list {
			if equal(have, v) {
				found = true
				break
			}
		}
		return found == (op == "in"), nil
	case "like", "ilike":
		h, _ := have.(message.String)
		w, _ := want.(message.String)
		if op == "ilike" {
			return strings.Contains(strings.ToLower(string(h)), strings.ToLower(string(w))), nil
		}
		return strings.Contains(string(h), string(w)), nil
	case "<", "<=", ">", ">=":
		c, ok := order(have, want)
		if !ok {
			return false, nil
		}
		switch op {
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	default:
		return false, m.fault("unsupported domain operator %q", op)
	}
}

// project copies the requested fields of row, id first
func (m *Records) project(row *message.Struct, fields []string) *message.Struct {
	res := &message.Struct{}
	id, _ := row.Get("id")
	res.Set("id", id)
	if len(fields) == 0 {
		for _, mb := range row.Members {
			res.Set(mb.Name, mb.Value)
		}
		return res
	}
	for _, f := range fields {
		res.Set(f, fieldValue(row, f))
	}
	return res
}

func (m *Records) checkFields(names []string) error {
	for _, n := range names {
		if _, ok := m.fields[n]; !ok {
			return m.fault("Invalid field '%s' on model '%s'", n, m.name)
		}
	}
	return nil
}

func (m *Records) mustExist(ids []int64) error {
	for _, id := range ids {
		if _, ok := m.rows[id]; !ok {
			return m.fault("Record does not exist or has been deleted. (Records: %s(%d,))", m.name, id)
		}
	}
	return nil
}

func (m *Records) fault(format string, args ...any) error {
	return &rpcerr.Fault{Code: FaultGeneric, String: fmt.Sprintf(format, args...)}
}

// fieldLabel turns partner_id into Partner Id
func fieldLabel(name string) string {
	words := strings.Split(name, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func fieldValue(row *message.Struct, name string) message.Value {
	if v, ok := row.Get(name); ok {
		return v
	}
	return message.Bool(false)
}

// idsArg reads a single id or a list of ids from args[i]
func idsArg(args message.Array, i int) ([]int64, error) {
	if len(args) <= i {
		return nil, fmt.Errorf("missing ids")
	}
	switch v := args[i].(type) {
	case message.Int:
		return []int64{int64(v)}, nil
	case message.Array:
		ids := make([]int64, 0, len(v))
		for _, e := range v {
			id, ok := e.(message.Int)
			if !ok {
				return nil, fmt.Errorf("id must be an integer, got %s", kindOf(e))
			}
			ids = append(ids, int64(id))
		}
		return ids, nil
	default:
		return nil, fmt.Errorf("ids must be a list, got %s", kindOf(args[i]))
	}
}

// fieldsArg reads the field list from kwargs["fields"] or args[i]
func fieldsArg(args message.Array, i int, kwargs *message.Struct) []string {
	v, ok := kwargs.Get("fields")
	if !ok && len(args) > i {
		v = args[i]
	}
	list, _ := v.(message.Array)
	fields := make([]string, 0, len(list))
	for _, f := range list {
		if s, ok := f.(message.String); ok {
			fields = append(fields, string(s))
		}
	}
	return fields
}

func domainArg(args message.Array, kwargs *message.Struct) message.Array {
	if v, ok := kwargs.Get("domain"); ok {
		d, _ := v.(message.Array)
		return d
	}
	if len(args) > 0 {
		d, _ := args[0].(message.Array)
		return d
	}
	return nil
}

func equal(a, b message.Value) bool {
	if c, ok := order(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(message.ToNative(a), message.ToNative(b))
}

// order compares two numbers or two strings
func order(a, b message.Value) (int, bool) {
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			switch {
			case x < y:
				return -1, true
			case x > y:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	x, ok1 := a.(message.String)
	y, ok2 := b.(message.String)
	if !ok1 || !ok2 {
		return 0, false
	}
	return strings.Compare(string(x), string(y)), true
}

func number(v message.Value) (float64, bool) {
	switch t := v.(type) {
	case message.Int:
		return float64(t), true
	case message.Double:
		return float64(t), true
	default:
		return 0, false
	}
}
