// Package rpcerr defines the error taxonomy shared by every transport.
//
// Numeric codes follow JSON-RPC 2.0 as exposed by gorilla/rpc's json2
// package, so an envelope error decoded by a json2 client keeps its code.
package rpcerr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/rpc/v2/json2"
)

// Kind classifies an RPC failure.
type Kind int

const (
	// MethodNotFound covers absent names, private/system names and missing namespace segments.
	MethodNotFound Kind = iota + 1
	// InvalidExpression covers chain grammar violations.
	InvalidExpression
	// ArgumentParse covers argument text that cannot become a value of the expected type.
	ArgumentParse
	// Handler wraps a failure raised inside a resolved handler.
	Handler
	// Transport covers duplex transport-level failures.
	Transport
)

var kindNames = map[Kind]string{
	MethodNotFound:    "MethodNotFound",
	InvalidExpression: "InvalidExpression",
	ArgumentParse:     "ArgumentParseError",
	Handler:           "HandlerError",
	Transport:         "TransportError",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Code returns the wire code for the kind.
func (k Kind) Code() int {
	switch k {
	case MethodNotFound:
		return int(json2.E_NO_METHOD)
	case InvalidExpression:
		return int(json2.E_INVALID_REQ)
	case ArgumentParse:
		return int(json2.E_BAD_PARAMS)
	case Handler:
		return int(json2.E_SERVER)
	default:
		return int(json2.E_INTERNAL)
	}
}

// HTTPStatus maps the kind onto the status used by the HTTP adapters.
func (k Kind) HTTPStatus() int {
	switch k {
	case MethodNotFound:
		return http.StatusNotFound
	case InvalidExpression, ArgumentParse:
		return http.StatusBadRequest
	case Handler:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// Error is a classified RPC failure. Message never contains a stack trace.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Code is a shortcut for e.Kind.Code().
func (e *Error) Code() int { return e.Kind.Code() }

// Is matches any *Error of the same kind, so errors.Is(err, rpcerr.ErrMethodNotFound) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
	}
	return false
}

// Sentinels for errors.Is checks.
var (
	ErrMethodNotFound    = &Error{Kind: MethodNotFound}
	ErrInvalidExpression = &Error{Kind: InvalidExpression}
	ErrArgumentParse     = &Error{Kind: ArgumentParse}
	ErrHandler           = &Error{Kind: Handler}
	ErrTransport         = &Error{Kind: Transport}
)

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports that path does not resolve to a callable entry.
func NotFound(path string) *Error {
	return newf(MethodNotFound, "method not found: %s", path)
}

// InvalidExpressionf builds an InvalidExpression error.
func InvalidExpressionf(format string, args ...interface{}) *Error {
	return newf(InvalidExpression, format, args...)
}

// ArgumentParsef builds an ArgumentParseError.
func ArgumentParsef(format string, args ...interface{}) *Error {
	return newf(ArgumentParse, format, args...)
}

// HandlerFailure wraps an error raised by a handler, keeping only its message.
func HandlerFailure(err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: Handler, Message: err.Error()}
}

// Transportf builds a TransportError.
func Transportf(format string, args ...interface{}) *Error {
	return newf(Transport, format, args...)
}

// From classifies any error. Unclassified errors become HandlerError.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return HandlerFailure(err)
}

// KindOf returns the kind of err, or zero when err is nil.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	return From(err).Kind
}

// Wire is the JSON shape of an error on every transport.
type Wire struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ToWire converts err into its wire representation.
func ToWire(err error) *Wire {
	e := From(err)
	if e == nil {
		return nil
	}
	return &Wire{Code: e.Code(), Message: e.Message}
}
