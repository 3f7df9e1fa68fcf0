// Package dispatch serializes concurrent callers onto a single consumer
// goroutine that drives the engine, so that the engine itself never needs
// to be re-entrant.
package dispatch

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	tomb "gopkg.in/tomb.v2"
)

// ErrStopped is returned by Submit once the dispatcher has shut down.
var ErrStopped = errors.New("dispatch: stopped")

const commandChanSize = 256

// command is one unit of work handed to the consumer goroutine. run is
// executed on the consumer; done is closed once it returns.
type command struct {
	run  func()
	done chan struct{}
}

// Dispatcher runs a single consumer goroutine that executes submitted
// commands strictly one at a time, in submission order.
type Dispatcher struct {
	commands chan command
	t        *tomb.Tomb
	log      zerolog.Logger
}

// New starts the consumer goroutine under ctx and returns the dispatcher.
// Call Stop to shut it down.
func New(ctx context.Context, log zerolog.Logger) *Dispatcher {
	t, ctx := tomb.WithContext(ctx)
	d := &Dispatcher{
		commands: make(chan command, commandChanSize),
		t:        t,
		log:      log.With().Str("component", "dispatch").Logger(),
	}
	t.Go(func() error {
		return d.run(ctx)
	})
	return d
}

func (d *Dispatcher) run(ctx context.Context) error {
	d.log.Info().Msg("dispatcher running")
	for {
		select {
		case <-d.t.Dying():
			return nil
		case <-ctx.Done():
			return nil
		case cmd := <-d.commands:
			cmd.run()
			close(cmd.done)
		}
	}
}

// Submit enqueues fn to run on the consumer goroutine and blocks until it
// has completed. It is safe to call from any number of goroutines; fn
// calls across concurrent Submit calls never overlap.
func (d *Dispatcher) Submit(fn func()) error {
	cmd := command{run: fn, done: make(chan struct{})}
	select {
	case <-d.t.Dying():
		return ErrStopped
	case d.commands <- cmd:
	}

	select {
	case <-cmd.done:
		return nil
	case <-d.t.Dying():
		return ErrStopped
	}
}

// Stop signals the consumer goroutine to exit and waits for it.
func (d *Dispatcher) Stop() error {
	d.t.Kill(nil)
	return d.t.Wait()
}
