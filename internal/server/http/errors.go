package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type upstreamErrKind int

const (
	errKindNetwork upstreamErrKind = iota
	errKindTimeout
	errKindProtocol
)

func (k upstreamErrKind) String() string {
	switch k {
	case errKindTimeout:
		return "timeout"
	case errKindProtocol:
		return "protocol"
	default:
		return "network"
	}
}

// upstreamError carries attempt failure detail for operator logs.
// Clients only ever see the generic 502 body.
type upstreamError struct {
	kind upstreamErrKind
	url  string
	err  error
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("upstream %s (%s): %v", e.url, e.kind, e.err)
}

func (e *upstreamError) Unwrap() error { return e.err }

func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
