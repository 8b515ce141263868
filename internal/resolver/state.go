package resolver

import "errors"

// ErrNotInitialized is returned by operations that need the remote client
// before Initialize completed.
var ErrNotInitialized = errors.New("task service is not initialized: call Initialize first")

// ErrDisposed is returned by Initialize once the service was disposed.
var ErrDisposed = errors.New("task service is disposed")

// InitState is the two-phase initialization state of a Service.
type InitState int32

const (
	Uninitialized InitState = iota
	Initializing
	Ready
)

func (s InitState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	}
	return "unknown"
}
