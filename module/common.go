package module

import (
	"errors"

	"github.com/umbra-net/umbra-go/module/irrecoverable"
)

// ErrMultipleStartup is returned when Start is called more than once on
// a Startable.
var ErrMultipleStartup = errors.New("component may only be started once")

// ReadyDoneAware provides easy interface to wait for module startup and shutdown.
// Modules that implement this interface only support a single start-stop cycle,
// and will not restart if Ready() is called again after shutdown has already commenced.
type ReadyDoneAware interface {
	// Ready commences startup of the module, and returns a ready channel that is closed once
	// startup has completed. This is an idempotent method.
	Ready() <-chan struct{}

	// Done commences shutdown of the module, and returns a done channel that is closed once
	// shutdown has completed. This is an idempotent method.
	Done() <-chan struct{}
}

// Startable provides an interface to start a component. Once started, the
// component can be stopped by cancelling the given context.
type Startable interface {
	// Start starts the component. Any irrecoverable errors thrown by the
	// component will be propagated to the given SignalerContext.
	Start(irrecoverable.SignalerContext)
}

// NoopReadyDoneAware is an implementation of ReadyDoneAware that is
// immediately ready and done. It backs modules with no lifecycle of
// their own.
type NoopReadyDoneAware struct{}

func (n *NoopReadyDoneAware) Ready() <-chan struct{} {
	ready := make(chan struct{})
	defer close(ready)
	return ready
}

func (n *NoopReadyDoneAware) Done() <-chan struct{} {
	done := make(chan struct{})
	defer close(done)
	return done
}
