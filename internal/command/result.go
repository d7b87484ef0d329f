package command

// Method records how a command reached the scene.
type Method string

const (
	MethodDirect    Method = "direct"
	MethodBroadcast Method = "broadcast"
	MethodNone      Method = "none"
)

// Result is the outcome of dispatching one Command.
type Result struct {
	CommandID string
	Success   bool
	Message   string
	Data      Params
	Err       error
}

// Succeeded builds a successful result.
func Succeeded(message string, data Params) Result {
	return Result{Success: true, Message: message, Data: data}
}

// Failed builds a failed result. The message defaults to the error text.
func Failed(err error, message string) Result {
	if message == "" && err != nil {
		message = err.Error()
	}
	return Result{Success: false, Message: message, Err: err}
}

// WithCommandID returns a copy correlated to the given command id.
func (r Result) WithCommandID(id string) Result {
	r.CommandID = id
	return r
}

// ErrorText is the error string for failed results, empty otherwise.
func (r Result) ErrorText() string {
	if r.Success || r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Method reports the delivery method recorded in the result data.
func (r Result) Method() Method {
	if m := r.Data.String("method"); m != "" {
		return Method(m)
	}
	return MethodNone
}
