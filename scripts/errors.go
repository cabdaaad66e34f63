package scripts

import "fmt"

// CommandError describes a failed external command. Stderr holds the
// command's trimmed error output, when there was any.
type CommandError struct {
	Op      string
	Command string
	Err     error
	Stderr  string
	Message string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Err)
	}
	if e.Stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Stderr)
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func newCommandError(op, command string, err error, stderr, message string) *CommandError {
	return &CommandError{
		Op:      op,
		Command: command,
		Err:     err,
		Stderr:  stderr,
		Message: message,
	}
}
