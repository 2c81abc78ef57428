// Package message defines the values exchanged with msfrpcd.
//
// Call is the "envelope" for every RPC invocation as it travels through the
// middleware chain. The codec layer turns Call.Values() into a MessagePack
// array and the reply bytes back into Call.Reply.
package message

// SuccessResult is the value of the "result" field on calls that report status.
const SuccessResult = "success"

// Call carries the data for a single RPC invocation.
//
//   - Client side: Method and Params come from the catalog builder, Reply is the
//     caller's typed destination.
//   - Server side: Params are decoded from the request, Reply is set by the handler.
type Call struct {
	ID          string // Request id, for logs only
	Method      string // Dotted method name, e.g. "auth.logout"
	Params      []any  // Positional fields after the method; the token comes first when required
	Reply       any
	CheckStatus bool // Reply must report result == "success"
}

// Values returns the ordered wire fields: the method name followed by Params.
func (c *Call) Values() []any {
	vals := make([]any, 0, len(c.Params)+1)
	vals = append(vals, c.Method)
	return append(vals, c.Params...)
}

// ErrorEnvelope is the generic error record returned by the server.
type ErrorEnvelope struct {
	Error          bool     `msgpack:"error" codec:"error" json:"error"`
	ErrorClass     string   `msgpack:"error_class" codec:"error_class" json:"error_class"`
	ErrorString    string   `msgpack:"error_string" codec:"error_string" json:"error_string"`
	ErrorMessage   string   `msgpack:"error_message" codec:"error_message" json:"error_message"`
	ErrorBacktrace []string `msgpack:"error_backtrace" codec:"error_backtrace" json:"error_backtrace"`
	ErrorCode      int      `msgpack:"error_code,omitempty" codec:"error_code,omitempty" json:"error_code,omitempty"` // HTTP status msfrpcd answered with
}

// Validate rejects maps that only decoded because every field is optional.
func (e *ErrorEnvelope) Validate() error {
	if !e.Error {
		return errNotErrorEnvelope
	}
	return nil
}

// Status is the secondary success field carried by many replies. The error
// fields are filled by servers that explain a non-success result inline.
type Status struct {
	Result         string   `msgpack:"result" codec:"result" json:"result"`
	ErrorClass     string   `msgpack:"error_class,omitempty" codec:"error_class,omitempty" json:"error_class,omitempty"`
	ErrorString    string   `msgpack:"error_string,omitempty" codec:"error_string,omitempty" json:"error_string,omitempty"`
	ErrorMessage   string   `msgpack:"error_message,omitempty" codec:"error_message,omitempty" json:"error_message,omitempty"`
	ErrorBacktrace []string `msgpack:"error_backtrace,omitempty" codec:"error_backtrace,omitempty" json:"error_backtrace,omitempty"`
	ErrorCode      int      `msgpack:"error_code,omitempty" codec:"error_code,omitempty" json:"error_code,omitempty"`
}

// ResultStatus implements StatusReporter; embed Status to inherit it.
func (s Status) ResultStatus() Status { return s }

// OK reports whether the result field equals "success".
func (s Status) OK() bool { return s.Result == SuccessResult }

// Envelope converts a non-success status into an error envelope.
func (s Status) Envelope() ErrorEnvelope {
	env := ErrorEnvelope{
		Error:          true,
		ErrorClass:     s.ErrorClass,
		ErrorString:    s.ErrorString,
		ErrorMessage:   s.ErrorMessage,
		ErrorBacktrace: s.ErrorBacktrace,
		ErrorCode:      s.ErrorCode,
	}
	if env.ErrorMessage == "" && env.ErrorString == "" {
		env.ErrorMessage = "result: " + quote(s.Result)
	}
	return env
}

// StatusReporter is implemented by replies that carry a result field.
type StatusReporter interface {
	ResultStatus() Status
}

// Object is a reply whose keys are not fixed, such as module.info or
// core.getg. It accepts any string-keyed map except one flagged as an error,
// so the resolver can still tell it apart from an error envelope.
type Object map[string]any

func (o Object) Validate() error {
	if flag, ok := o["error"].(bool); ok && flag {
		return errErrorFlagged
	}
	return nil
}

// String returns the string value at key, or "" when absent or not a string.
func (o Object) String(key string) string {
	s, _ := o[key].(string)
	return s
}

type envelopeError string

func (e envelopeError) Error() string { return string(e) }

const (
	errNotErrorEnvelope = envelopeError("error envelope without error flag")
	errErrorFlagged     = envelopeError("reply carries the error flag")
)

func quote(s string) string {
	if s == "" {
		return `""`
	}
	return `"` + s + `"`
}
