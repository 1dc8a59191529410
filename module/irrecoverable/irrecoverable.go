package irrecoverable

import (
	"context"
	"log"
	"runtime"

	"go.uber.org/atomic"
)

// Signaler sends the error out.
type Signaler struct {
	errChan   chan error
	errThrown *atomic.Bool
}

// NewSignaler returns a Signaler and its error channel. The channel
// receives at most one error: the first error thrown.
func NewSignaler() (*Signaler, <-chan error) {
	errChan := make(chan error, 1)
	return &Signaler{
		errChan:   errChan,
		errThrown: atomic.NewBool(false),
	}, errChan
}

// Throw is a narrow drop-in replacement for panic, log.Fatal, log.Panic, etc
// anywhere there's something connected to the error channel. It only sends
// the first error it is called with; subsequent errors are logged and
// dropped. Throw does not return: the calling goroutine exits.
func (s *Signaler) Throw(err error) {
	defer runtime.Goexit()
	if s.errThrown.CompareAndSwap(false, true) {
		s.errChan <- err
		close(s.errChan)
	} else {
		log.New(log.Writer(), "", log.LstdFlags).Printf("additional irrecoverable error dropped: %v", err)
	}
}

// SignalerContext is a constrained drop-in replacement for
// context.Context, usable in interfaces that compose it. Errors thrown
// on the context are routed to whoever holds the paired error channel.
type SignalerContext interface {
	context.Context
	Throw(err error) // delegates to the signaler
	sealed()         // private, to constrain implementations to this package
}

type signalerCtx struct {
	context.Context
	*Signaler
}

func (sc signalerCtx) sealed() {}

// WithSignaler is the One True Way of getting a SignalerContext.
func WithSignaler(parent context.Context) (SignalerContext, <-chan error) {
	sig, errChan := NewSignaler()
	return &signalerCtx{parent, sig}, errChan
}

// WithSignallerAndCancel returns a SignalerContext, its error channel,
// and a cancel function for the underlying context.
func WithSignallerAndCancel(parent context.Context) (SignalerContext, <-chan error, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCtx, errChan := WithSignaler(ctx)
	return sigCtx, errChan, cancel
}

// Throw can be a drop-in replacement anywhere we have a context.Context
// likely to support irrecoverables. Note: this is not a method.
//
// A lot of library methods expect context.Context, and we want to pass
// the same value through without boilerplate. If the underlying context
// turns out not to be a SignalerContext there is no one to hand the
// error to, so the process exits.
func Throw(ctx context.Context, err error) {
	signalerAbleContext, ok := ctx.(SignalerContext)
	if ok {
		signalerAbleContext.Throw(err)
	}
	log.Fatalf("irrecoverable error signaler not found for context, please implement! Unhandled irrecoverable error: %v", err)
}
