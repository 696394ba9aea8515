package retry

import (
	"context"
	"errors"
	"strings"
	"syscall"

	"github.com/emperorhan/exposure-controller/internal/photodetector"
)

type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
)

// Decision describes a failed bus operation. The controller always skips the
// channel for the current round; Class tells operators whether the next round
// is likely to succeed.
type Decision struct {
	Class  Class
	Reason string
}

func (d Decision) IsTransient() bool {
	return d.Class == ClassTransient
}

func transient(reason string) Decision { return Decision{Class: ClassTransient, Reason: reason} }
func terminal(reason string) Decision  { return Decision{Class: ClassTerminal, Reason: reason} }

// marked carries an explicit decision set by the caller that produced err.
type marked struct {
	err      error
	decision Decision
}

func (m *marked) Error() string { return m.err.Error() }
func (m *marked) Unwrap() error { return m.err }

// Transient marks err as worth retrying on the next round.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &marked{err: err, decision: transient("explicit_transient")}
}

// Terminal marks err as unlikely to clear without intervention.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &marked{err: err, decision: terminal("explicit_terminal")}
}

var sentinelDecisions = []struct {
	target   error
	decision Decision
}{
	{context.Canceled, terminal("context_canceled")},
	{context.DeadlineExceeded, transient("context_deadline_exceeded")},
	{photodetector.ErrShortRead, transient("short_read")},
	{photodetector.ErrUnknownSensor, terminal("unknown_sensor")},
}

var errnoDecisions = map[syscall.Errno]Decision{
	syscall.ENXIO:     transient("bus_nack"),
	syscall.ETIMEDOUT: transient("bus_busy"),
	syscall.EAGAIN:    transient("bus_busy"),
	syscall.EBUSY:     transient("bus_busy"),
	syscall.ENODEV:    terminal("bus_unavailable"),
	syscall.ENOENT:    terminal("bus_unavailable"),
	syscall.EACCES:    terminal("bus_unavailable"),
}

// Message tokens are matched against the lowercased error text. Terminal
// tokens win over transient ones.
var (
	terminalTokens = []string{
		"no sensor selected",
		"out of range",
		"no such device",
		"permission denied",
		"bus closed",
	}
	transientTokens = []string{
		"timeout",
		"timed out",
		"temporar",
		"remote i/o error",
		"nack",
		"arbitration lost",
		"bus busy",
		"resource busy",
		"unexpected read buffer length",
	}
)

// Classify maps a bus or device error to a Decision. Unrecognised errors are
// terminal.
func Classify(err error) Decision {
	if err == nil {
		return terminal("nil_error")
	}

	var m *marked
	if errors.As(err, &m) {
		return m.decision
	}
	for _, s := range sentinelDecisions {
		if errors.Is(err, s.target) {
			return s.decision
		}
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if d, ok := errnoDecisions[errno]; ok {
			return d
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case hasToken(msg, terminalTokens):
		return terminal("message_terminal")
	case hasToken(msg, transientTokens):
		return transient("message_transient")
	}
	return terminal("unknown_terminal_default")
}

func hasToken(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}
