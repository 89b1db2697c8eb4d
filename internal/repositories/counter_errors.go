package repositories


// CounterErrorCode classifies sequence counter failures.
type CounterErrorCode string

const (
	CounterErrorUnknown      CounterErrorCode = "counter_unknown"
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorExhausted means the counter hit its configured ceiling.
	// Order number allocation treats this as a hard stop, not a retry.
	CounterErrorExhausted CounterErrorCode = "counter_exhausted"
)

// CounterError is the typed failure returned by CounterRepository so the
// order number allocator can distinguish an exhausted sequence from a
// storage fault.
type CounterError struct {
	Op      string
	Code    CounterErrorCode
	Message string
	Err     error
}

// NewCounterError builds a CounterError; an empty message falls back to
// the code itself.
func NewCounterError(code CounterErrorCode, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{Code: code, Message: message, Err: err}
}

func (e *CounterError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op == "":
		return e.Message
	default:
		return e.Op + ": " + e.Message
	}
}

func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
