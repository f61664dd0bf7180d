package client

import (
	"context"

	"github.com/pkg/errors"

	"erp-rpc/message"
)

// ErrUnexpectedResult is wrapped when a method's result doesn't have the
// shape the ORM always gives it.
var ErrUnexpectedResult = errors.New("unexpected result")

// SearchOptions are the optional keyword arguments of search and search_read.
type SearchOptions struct {
	Offset int
	Limit  int
	Order  string
	Fields []string // search_read only
}

func (o SearchOptions) kwargs(withFields bool) *message.Struct {
	kw := &message.Struct{}
	if o.Offset > 0 {
		kw.Set("offset", message.Int(o.Offset))
	}
	if o.Limit > 0 {
		kw.Set("limit", message.Int(o.Limit))
	}
	if o.Order != "" {
		kw.Set("order", message.String(o.Order))
	}
	if withFields && len(o.Fields) > 0 {
		kw.Set("fields", stringArray(o.Fields))
	}
	return kw
}

// Domain builds a search domain from [field, operator, value] terms and
// the "&", "|", "!" operators.
func Domain(terms ...any) (message.Array, error) {
	res := make(message.Array, 0, len(terms))
	for i, t := range terms {
		v, err := message.FromNative(t)
		if err != nil {
			return nil, errors.Wrapf(err, "domain term %d", i)
		}
		res = append(res, v)
	}
	return res, nil
}

// Search returns ids of model records matching domain. A nil domain matches all.
func (c *Client) Search(ctx context.Context, model string, domain message.Array, opts SearchOptions) ([]int64, error) {
	res, err := c.Execute(ctx, model, "search", message.Array{orEmpty(domain)}, opts.kwargs(false))
	if err != nil {
		return nil, err
	}
	return toIDs(res, model+".search")
}

// SearchCount returns the number of records matching domain.
func (c *Client) SearchCount(ctx context.Context, model string, domain message.Array) (int64, error) {
	res, err := c.Execute(ctx, model, "search_count", message.Array{orEmpty(domain)}, nil)
	if err != nil {
		return 0, err
	}
	n, ok := res.(message.Int)
	if !ok {
		return 0, errors.Wrapf(ErrUnexpectedResult, "%s.search_count returned %s", model, res.Kind())
	}
	return int64(n), nil
}

// SearchRead returns matching records with opts.Fields, or all fields.
func (c *Client) SearchRead(ctx context.Context, model string, domain message.Array, opts SearchOptions) ([]*message.Struct, error) {
	res, err := c.Execute(ctx, model, "search_read", message.Array{orEmpty(domain)}, opts.kwargs(true))
	if err != nil {
		return nil, err
	}
	return toRecords(res, model+".search_read")
}

// Read returns the records ids with the given fields, or all fields.
func (c *Client) Read(ctx context.Context, model string, ids []int64, fields []string) ([]*message.Struct, error) {
	kw := &message.Struct{}
	if len(fields) > 0 {
		kw.Set("fields", stringArray(fields))
	}
	res, err := c.Execute(ctx, model, "read", message.Array{idArray(ids)}, kw)
	if err != nil {
		return nil, err
	}
	return toRecords(res, model+".read")
}

// Create makes one record and returns its id. The id is 0 when the server
// lost the result (see Execute); read the record back by another key then.
func (c *Client) Create(ctx context.Context, model string, values *message.Struct) (int64, error) {
	if values == nil {
		values = &message.Struct{}
	}
	res, err := c.Execute(ctx, model, "create", message.Array{values}, nil)
	if err != nil {
		return 0, err
	}
	switch v := res.(type) {
	case message.Int:
		return int64(v), nil
	case message.Bool:
		if v {
			return 0, nil
		}
	}
	return 0, errors.Wrapf(ErrUnexpectedResult, "%s.create returned %s", model, res.Kind())
}

// Write updates ids with values.
func (c *Client) Write(ctx context.Context, model string, ids []int64, values *message.Struct) error {
	if values == nil {
		values = &message.Struct{}
	}
	_, err := c.Execute(ctx, model, "write", message.Array{idArray(ids), values}, nil)
	return err
}

// Unlink deletes ids.
func (c *Client) Unlink(ctx context.Context, model string, ids []int64) error {
	_, err := c.Execute(ctx, model, "unlink", message.Array{idArray(ids)}, nil)
	return err
}

// FieldsGet describes the fields of model, limited to attributes if given.
func (c *Client) FieldsGet(ctx context.Context, model string, attributes ...string) (*message.Struct, error) {
	kw := &message.Struct{}
	if len(attributes) > 0 {
		kw.Set("attributes", stringArray(attributes))
	}
	res, err := c.Execute(ctx, model, "fields_get", message.Array{}, kw)
	if err != nil {
		return nil, err
	}
	s, ok := res.(*message.Struct)
	if !ok {
		return nil, errors.Wrapf(ErrUnexpectedResult, "%s.fields_get returned %s", model, res.Kind())
	}
	return s, nil
}

func orEmpty(a message.Array) message.Array {
	if a == nil {
		return message.Array{}
	}
	return a
}

func idArray(ids []int64) message.Array {
	res := make(message.Array, len(ids))
	for i, id := range ids {
		res[i] = message.Int(id)
	}
	return res
}

func stringArray(ss []string) message.Array {
	res := make(message.Array, len(ss))
	for i, s := range ss {
		res[i] = message.String(s)
	}
	return res
}

func toIDs(v message.Value, label string) ([]int64, error) {
	arr, ok := v.(message.Array)
	if !ok {
		return nil, errors.Wrapf(ErrUnexpectedResult, "%s returned %s", label, v.Kind())
	}
	ids := make([]int64, 0, len(arr))
	for _, e := range arr {
		id, ok := e.(message.Int)
		if !ok {
			return nil, errors.Wrapf(ErrUnexpectedResult, "%s returned a %s id", label, e.Kind())
		}
		ids = append(ids, int64(id))
	}
	return ids, nil
}

func toRecords(v message.Value, label string) ([]*message.Struct, error) {
	arr, ok := v.(message.Array)
	if !ok {
		return nil, errors.Wrapf(ErrUnexpectedResult, "%s returned %s", label, v.Kind())
	}
	recs := make([]*message.Struct, 0, len(arr))
	for _, e := range arr {
		s, ok := e.(*message.Struct)
		if !ok {
			return nil, errors.Wrapf(ErrUnexpectedResult, "%s returned a %s record", label, e.Kind())
		}
		recs = append(recs, s)
	}
	return recs, nil
}
