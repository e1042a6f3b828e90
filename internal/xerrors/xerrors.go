// Package xerrors attaches call-site information to errors without changing
// their messages. Errors produced here unwrap normally, so errors.Is and
// errors.As see through them.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

// stacked carries the goroutine stack at the point it was created.
type stacked struct {
	error
	pcs []uintptr
}

func (s *stacked) Unwrap() error       { return s.error }
func (s *stacked) StackPCs() []uintptr { return s.pcs }

// annotated prefixes a message and records the single frame that added it.
type annotated struct {
	cause error
	msg   string
	pc    uintptr
}

func (a *annotated) Error() string { return a.msg + ": " + a.cause.Error() }
func (a *annotated) Unwrap() error { return a.cause }
func (a *annotated) PC() uintptr   { return a.pc }

// stack records the caller of the exported function that calls stack.
func stack() []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	// runtime.Callers, stack, exported func
	return pcs[:runtime.Callers(3, pcs)]
}

func caller() uintptr {
	var pc [1]uintptr
	runtime.Callers(3, pc[:])
	return pc[0]
}

func New(msg string) error { return &stacked{error: errors.New(msg), pcs: stack()} }

func Newf(format string, args ...any) error {
	return &stacked{error: fmt.Errorf(format, args...), pcs: stack()}
}

// WithStack records the current stack on err. nil stays nil.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &stacked{error: err, pcs: stack()}
}

// EnsureTrace is WithStack unless some error in the chain already has a stack.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var s interface{ StackPCs() []uintptr }
	if errors.As(err, &s) && len(s.StackPCs()) > 0 {
		return err
	}
	return &stacked{error: err, pcs: stack()}
}

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &annotated{cause: err, msg: msg, pc: caller()}
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &annotated{cause: err, msg: fmt.Sprintf(format, args...), pc: caller()}
}
