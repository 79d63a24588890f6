package account

import (
	"encoding/json"

	goerrors "github.com/goliatone/go-errors"
)

// Result is the uniform outcome of every AccountService operation.
// Expected negatives carry Success=false and a nil Error.
type Result struct {
	Success bool
	Data    any
	Error   error
}

// Kind classifies the failure, KindNone for successes and expected negatives
func (r Result) Kind() ErrorKind {
	return KindOf(r.Error)
}

func (r Result) MarshalJSON() ([]byte, error) {
	out := struct {
		Success bool   `json:"success"`
		Data    any    `json:"data,omitempty"`
		Error   string `json:"error,omitempty"`
	}{
		Success: r.Success,
		Data:    r.Data,
	}
	out.Error = ErrorMessage(r.Error)
	return json.Marshal(out)
}

// ErrorMessage returns the caller facing message for err. Rich errors
// expose their own message without the wrapped source.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Message != "" {
		return richErr.Message
	}
	return err.Error()
}

func succeed(data any) Result {
	return Result{Success: true, Data: data}
}

func reject() Result {
	return Result{Success: false}
}

func fail(err error) Result {
	return Result{Success: false, Error: err}
}

// AuthenticatedUser is the payload of a successful login
type AuthenticatedUser struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Token string `json:"token"`
}
