// Package executor issues streamed model requests with retry and
// cancellation semantics on top of a provider transport.
package executor

import (
	"context"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/strand-ai/strand/internal/provider"
	"github.com/strand-ai/strand/pkg/types"
)

// eventBuffer sizes the stream channel; consumers that fall behind by more
// than this block the producer at a suspension point, not a data loss.
const eventBuffer = 64

// Executor opens one streamed request at a time against a transport.
// Transient failures are retried with exponential backoff and jitter, but
// only while no content has been emitted; once the consumer has seen any
// content, a failure surfaces as a partial result so side effects are
// never duplicated by a silent replay.
type Executor struct {
	transport provider.Transport
	retry     types.RetryConfig
	log       zerolog.Logger
}

// New creates an executor over the given transport.
func New(transport provider.Transport, retry types.RetryConfig, log zerolog.Logger) *Executor {
	return &Executor{transport: transport, retry: retry, log: log}
}

// Stream is the consumer-facing event sequence for one logical request.
// Events arrive in emission order; the channel closes after the terminal
// StreamEnd or StreamError. Cancel closes the underlying transport but
// already-buffered partial content remains readable.
type Stream struct {
	events chan provider.StreamEvent
	cancel context.CancelFunc
}

// Events returns the event channel.
func (s *Stream) Events() <-chan provider.StreamEvent { return s.events }

// Cancel aborts the in-flight request.
func (s *Stream) Cancel() { s.cancel() }

// Execute opens a streamed request and returns its event stream. The
// returned stream is always valid; failures are delivered as a terminal
// StreamError event.
func (e *Executor) Execute(ctx context.Context, req *provider.Request) *Stream {
	runCtx, cancel := context.WithCancel(ctx)
	s := &Stream{
		events: make(chan provider.StreamEvent, eventBuffer),
		cancel: cancel,
	}
	go e.run(runCtx, req, s.events)
	return s
}

// newRetryBackoff builds the retry schedule: exponential with jitter,
// bounded by attempt count and elapsed time, cancelled with the context.
func (e *Executor) newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retry.InitialInterval
	b.MaxInterval = e.retry.MaxInterval
	b.MaxElapsedTime = e.retry.MaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.retry.MaxRetries)), ctx)
}

func (e *Executor) run(ctx context.Context, req *provider.Request, out chan<- provider.StreamEvent) {
	defer close(out)

	bo := e.newRetryBackoff(ctx)
	emitted := false

	emit := func(ev provider.StreamEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	fail := func(err error, retryable bool) bool {
		// Retry only while the consumer has seen nothing.
		if !emitted && retryable {
			wait := bo.NextBackOff()
			if wait != backoff.Stop {
				e.log.Warn().Err(err).Dur("wait", wait).Msg("transient stream failure, retrying")
				select {
				case <-time.After(wait):
					return true
				case <-ctx.Done():
				}
			}
		}
		emit(provider.StreamError{Err: err, Retryable: retryable})
		return false
	}

	for {
		stream, err := e.transport.OpenStream(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				emitCancelled(out, ctx)
				return
			}
			if fail(err, true) {
				continue
			}
			return
		}

		retrying := false
		for {
			ev, err := stream.Recv()
			if err == io.EOF {
				stream.Close()
				// Transport ended without a terminal event; normalize.
				emit(provider.StreamEnd{Reason: provider.FinishStop})
				return
			}
			if err != nil {
				stream.Close()
				if ctx.Err() != nil {
					emitCancelled(out, ctx)
					return
				}
				if fail(err, true) {
					retrying = true
					break
				}
				return
			}

			switch ev := ev.(type) {
			case provider.StreamError:
				stream.Close()
				if fail(ev.Err, ev.Retryable) {
					retrying = true
					break
				}
				return

			case provider.StreamEnd:
				emit(ev)
				stream.Close()
				return

			case provider.UsageUpdate:
				// Accounting only: does not count as emitted content.
				if !emit(ev) {
					stream.Close()
					return
				}

			default:
				emitted = true
				if !emit(ev) {
					stream.Close()
					return
				}
			}

			if retrying {
				break
			}
		}

		if !retrying {
			return
		}
	}
}

// emitCancelled delivers the cancellation as a terminal event. A short
// grace window lets a draining consumer pick it up even when the buffer
// is full; buffered partial content stays readable either way.
func emitCancelled(out chan<- provider.StreamEvent, ctx context.Context) {
	select {
	case out <- provider.StreamError{Err: ctx.Err(), Retryable: false}:
	case <-time.After(time.Second):
	}
}
