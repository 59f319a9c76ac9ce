package dataset

import (
	"encoding/json"
	"fmt"
)

// Response is the result envelope returned by every engine operation.
// Success and Error are mutually exclusive: use OK and Fail to build one.
type Response struct {
	Success bool
	Result  interface{}
	Error   string
	Kind    ErrorKind
}

// OK wraps a successful result.
func OK(result interface{}) *Response {
	return &Response{Success: true, Result: result}
}

// Fail wraps err into a failed envelope. A nil err still produces a failure
// so callers can never observe success without a result branch.
func Fail(err error) *Response {
	if err == nil {
		return &Response{Error: "unknown failure", Kind: KindApplication}
	}
	msg := err.Error()
	if msg == "" {
		msg = string(KindOf(err))
	}
	return &Response{Error: msg, Kind: KindOf(err)}
}

// Failf builds a failed envelope directly from a kind and message.
func Failf(kind ErrorKind, op, format string, args ...interface{}) *Response {
	return Fail(Errorf(kind, op, format, args...))
}

// Err returns the failure as an error, or nil for a successful response.
func (r *Response) Err() error {
	if r == nil {
		return NewError(KindApplication, "", "nil response")
	}
	if r.Success {
		return nil
	}
	return &Error{Kind: r.Kind, Message: r.Error}
}

// Strings returns the result as a list of strings when it is one.
func (r *Response) Strings() ([]string, bool) {
	if r == nil || !r.Success {
		return nil, false
	}
	switch v := r.Result.(type) {
	case []string:
		return v, true
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// Map returns the result as a JSON object when it is one.
func (r *Response) Map() (map[string]interface{}, bool) {
	if r == nil || !r.Success {
		return nil, false
	}
	m, ok := r.Result.(map[string]interface{})
	return m, ok
}

func (r *Response) String() string {
	if r.Success {
		return fmt.Sprintf("success: %v", r.Result)
	}
	return fmt.Sprintf("error (%s): %s", r.Kind, r.Error)
}

type successJSON struct {
	Success bool        `json:"success"`
	Result  interface{} `json:"result"`
}

type failureJSON struct {
	Success bool      `json:"success"`
	Error   string    `json:"error"`
	Kind    ErrorKind `json:"error_kind,omitempty"`
}

// MarshalJSON emits {"success":true,"result":...} or
// {"success":false,"error":...}, never both branches.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Success {
		return json.Marshal(successJSON{Success: true, Result: r.Result})
	}
	return json.Marshal(failureJSON{Error: r.Error, Kind: r.Kind})
}

func (r *Response) UnmarshalJSON(b []byte) error {
	var raw struct {
		Success bool        `json:"success"`
		Result  interface{} `json:"result"`
		Error   string      `json:"error"`
		Kind    ErrorKind   `json:"error_kind"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Success {
		*r = Response{Success: true, Result: raw.Result}
		return nil
	}
	*r = Response{Error: raw.Error, Kind: raw.Kind}
	if r.Error == "" {
		r.Error = "unknown failure"
	}
	return nil
}
