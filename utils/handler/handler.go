// Package handler adapts fallible HTTP handlers -- func(w, r) error -- into
// http.HandlerFunc, mapping the returned error to a status code and a
// plain-text body.
package handler

import (
	"fmt"
	"net/http"

	"github.com/angelasoler/hypertube/utils/log"
)

// Error is an error with an associated HTTP status. The zero value status
// maps to 500 when Wrap writes the response.
type Error struct {
	status int
	msg    string
}

// Errorf creates an Error with status 500, formatted like fmt.Errorf.
func Errorf(format string, args ...interface{}) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

// ErrorStatus creates an Error for status whose message is that status's
// standard text (http.StatusText).
func ErrorStatus(status int) *Error {
	return &Error{status: status, msg: http.StatusText(status)}
}

// Status sets the HTTP status returned for e and returns e for chaining.
func (e *Error) Status(status int) *Error {
	e.status = status
	return e
}

func (e *Error) Error() string {
	return e.msg
}

func (e *Error) statusCode() int {
	if e.status == 0 {
		return http.StatusInternalServerError
	}
	return e.status
}

// Handler is a handler that may fail.
type Handler func(w http.ResponseWriter, r *http.Request) error

// Wrap adapts h into an http.HandlerFunc. On error, it writes the error's
// status and message as the response body, logging the failure only when
// the status is 500 or above.
func Wrap(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			herr, ok := err.(*Error)
			if !ok {
				herr = Errorf(err.Error())
			}
			if herr.statusCode() >= 500 {
				log.Errorf("%s %s: %s", r.Method, r.URL.Path, herr.msg)
			}
			http.Error(w, herr.msg, herr.statusCode())
		}
	}
}
