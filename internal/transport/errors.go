package transport

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strconv"
	"strings"
)

// TransientError marks a send failure worth retrying: timeouts, connection
// resets, temporary relay rejections (4xx).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient transport error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a send failure that retrying cannot fix: malformed
// addresses, hard relay rejections (5xx), authentication failures. The retry
// path skips remaining attempts for these.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent transport error: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is classified as a permanent rejection.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// classify wraps a raw send error as transient or permanent. SMTP reply codes
// decide when present: 4xx is temporary by protocol, 5xx is a hard rejection.
// Network-level failures (timeout, refused, reset) are transient.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var proto *textproto.Error
	if errors.As(err, &proto) {
		return classifyCode(proto.Code, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransientError{Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TransientError{Err: err}
	}

	// gomail surfaces some relay replies as plain strings; fall back to
	// parsing a leading reply code.
	if code, ok := leadingReplyCode(err.Error()); ok {
		return classifyCode(code, err)
	}

	return &TransientError{Err: err}
}

func classifyCode(code int, err error) error {
	if code >= 500 {
		return &PermanentError{Err: err}
	}
	return &TransientError{Err: err}
}

// leadingReplyCode extracts a 3-digit SMTP reply code from the start of an
// error message like "550 5.1.1 no such user".
func leadingReplyCode(msg string) (int, bool) {
	msg = strings.TrimSpace(msg)
	if len(msg) < 3 {
		return 0, false
	}
	code, err := strconv.Atoi(msg[:3])
	if err != nil || code < 200 || code > 599 {
		return 0, false
	}
	if len(msg) > 3 && msg[3] != ' ' && msg[3] != '-' {
		return 0, false
	}
	return code, true
}
