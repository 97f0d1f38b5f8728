package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies the result of a single network attempt.
type Kind int

const (
	KindOK Kind = iota
	KindHTTPError
	KindNetworkError
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindHTTPError:
		return "http_error"
	case KindNetworkError:
		return "network_error"
	case KindTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of one attempt. Body is set for OK and, when the
// server sent one, for HTTPError. Err carries the cause of any non-OK kind.
type Outcome struct {
	Kind   Kind
	Status int
	Body   []byte
	Err    error
}

// OK reports whether the attempt succeeded.
func (o Outcome) OK() bool { return o.Kind == KindOK }

func (o Outcome) String() string {
	switch o.Kind {
	case KindOK:
		return fmt.Sprintf("ok (%d bytes)", len(o.Body))
	case KindHTTPError:
		if o.Err != nil {
			return fmt.Sprintf("HTTP %d: %v", o.Status, o.Err)
		}
		return fmt.Sprintf("HTTP %d: %s", o.Status, http.StatusText(o.Status))
	default:
		return fmt.Sprintf("%s: %v", o.Kind, o.Err)
	}
}

// Success builds an OK outcome.
func Success(status int, body []byte) Outcome {
	return Outcome{Kind: KindOK, Status: status, Body: body}
}

// HTTPError builds an outcome for a non-2xx response or an unusable 2xx body.
func HTTPError(status int, body []byte, cause error) Outcome {
	return Outcome{Kind: KindHTTPError, Status: status, Body: body, Err: cause}
}

// NetworkError builds an outcome for a connection-level failure.
func NetworkError(cause error) Outcome {
	return Outcome{Kind: KindNetworkError, Err: cause}
}

// Timeout builds an outcome for an attempt whose deadline elapsed.
func Timeout(cause error) Outcome {
	if cause == nil {
		cause = context.DeadlineExceeded
	}
	return Outcome{Kind: KindTimeout, Err: cause}
}

// Classify converts an error from http.Client.Do (or a body read) into an
// Outcome. Deadline expiry is a Timeout; everything else is a NetworkError,
// including caller cancellation, which the retry policy detects on its own.
func Classify(err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout(err)
	}
	return NetworkError(err)
}
