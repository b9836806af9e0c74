package kernel

import "fmt"

// Error describes a kernel error. Errors that do not carry any runtime
// information are defined as global variables that are pointers to the Error
// structure; errors that need to report an offending value (a frame number,
// a task index) are built with Errorf.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Errorf returns a new Error for module whose message is formatted according
// to format.
func Errorf(module, format string, args ...interface{}) *Error {
	return &Error{Module: module, Message: fmt.Sprintf(format, args...)}
}
