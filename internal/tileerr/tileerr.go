// Package tileerr declares the failure kinds shared by the tile pipeline.
//
// Concrete errors wrap one of the kinds so callers can classify a failure
// with errors.Is without knowing which component produced it. Every kind is
// recoverable at tile granularity.
package tileerr

import "errors"

var (
	// ErrNetwork covers connect, DNS, timeout and reset failures.
	ErrNetwork = errors.New("network error")
	// ErrProtocol covers malformed framing, a missing or invalid
	// Content-Length and non-2xx status lines.
	ErrProtocol = errors.New("protocol error")
	// ErrDecode covers payload corruption: bad varints, packed sizes, tags.
	ErrDecode = errors.New("decode error")
	// ErrIndex is returned for out-of-range tile coordinates.
	ErrIndex = errors.New("index error")
	// ErrCanceled is returned by loaders that dropped a tile nobody wants
	// any more. It is not a failure and triggers no reschedule.
	ErrCanceled = errors.New("load canceled")
)

// Kind maps err to a short label used in logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrIndex):
		return "index"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	default:
		return "other"
	}
}
