// Package message defines the values and call shapes shared by every layer
// of the client.
//
// Call is what a caller asks for (model + method + arguments). Request is
// the wire-level XML-RPC call the transport sends to one of the two ERP
// endpoints, and Response is what comes back through the middleware chain.
//
//	Call{res.partner, create, args, kwargs}
//	  → Request{object, execute_kw, [db, uid, pwd, model, method, args, kwargs]}
//	    → Response{Value | Err, Recovered}
package message

// Service names one of the ERP XML-RPC endpoints under /xmlrpc/2/.
type Service string

const (
	ServiceCommon Service = "common" // authenticate, version
	ServiceObject Service = "object" // execute_kw
)

// Call is one model method invocation.
type Call struct {
	Model  string
	Method string
	Args   Array   // positional arguments
	Kwargs *Struct // named arguments, nil means none
}

// Label is a log-friendly "model.method" name.
func (c Call) Label() string {
	return c.Model + "." + c.Method
}

// Request is a single XML-RPC methodCall addressed to an endpoint.
type Request struct {
	Service Service
	Method  string  // XML-RPC methodName, e.g. "execute_kw"
	Params  []Value // may contain credentials, never log them
	Label   string  // what the call is about, safe to log
}

// Response carries the decoded result or the error of a Request.
//
// Recovered is set when the result was substituted by the transport rather
// than decoded from the server; Value is then Bool(true).
type Response struct {
	Value     Value
	Err       error
	Recovered bool
}
