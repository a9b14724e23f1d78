package network

import "time"

// Observer receives request client events, typically to feed metrics.
// Implementations must be safe for concurrent use.
type Observer interface {
	// RequestDone is called after every attempt with its outcome.
	RequestDone(kind FailureKind, elapsed time.Duration)
	// SessionCreated is called for every new session.
	SessionCreated()
	// ProxyEvicted is called when a blocked proxy leaves the pool.
	ProxyEvicted()
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) RequestDone(FailureKind, time.Duration) {}
func (NopObserver) SessionCreated()                        {}
func (NopObserver) ProxyEvicted()                          {}
