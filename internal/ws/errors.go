package ws

import "fmt"

// Kind classifies rejected operations. All three kinds are reported to the
// caller as an error packet with the reason string; infrastructure failures
// are not OpErrors and surface as a generic error after logging.
type Kind int

const (
	KindAuthorization Kind = iota + 1
	KindValidation
	KindConflict
)

type OpError struct {
	Kind   Kind
	Reason string
}

func (e *OpError) Error() string { return e.Reason }

func errAuth(format string, args ...interface{}) error {
	return &OpError{Kind: KindAuthorization, Reason: fmt.Sprintf(format, args...)}
}

func errValidation(format string, args ...interface{}) error {
	return &OpError{Kind: KindValidation, Reason: fmt.Sprintf(format, args...)}
}

func errConflict(format string, args ...interface{}) error {
	return &OpError{Kind: KindConflict, Reason: fmt.Sprintf(format, args...)}
}
