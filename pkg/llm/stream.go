package llm

import (
	"context"
)

// Stream is a single-use, forward-only sequence of generated text fragments.
//
//	for s.Next() {
//		fmt.Print(s.Fragment())
//	}
//	if err := s.Err(); err != nil { ... }
//
// Close must be called when the caller stops early; it cancels generation.
type Stream struct {
	ch     chan string
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	cur string
	err error
}

func newStream(parent context.Context) *Stream {
	ctx, cancel := context.WithCancel(parent)
	return &Stream{
		ch:     make(chan string),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// run executes produce in its own goroutine. The stream ends when produce
// returns; a non-nil return becomes Err.
func (s *Stream) run(produce func(ctx context.Context) error) {
	go func() {
		defer close(s.done)
		defer close(s.ch)
		s.err = produce(s.ctx)
	}()
}

// send delivers one fragment, blocking until it is read or the stream is
// cancelled.
func (s *Stream) send(ctx context.Context, fragment string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.ch <- fragment:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next advances to the next fragment. It returns false at end of stream.
func (s *Stream) Next() bool {
	frag, ok := <-s.ch
	if !ok {
		s.cur = ""
		return false
	}
	s.cur = frag
	return true
}

func (s *Stream) Fragment() string {
	return s.cur
}

// Err is only valid after Next has returned false. It is non-nil only when
// the stream was cancelled before generation finished.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

// Close stops generation and waits for the producer to exit.
func (s *Stream) Close() {
	s.cancel()
	for range s.ch {
	}
	<-s.done
}

// StaticStream yields the given fragments. Used when no model is involved.
func StaticStream(ctx context.Context, fragments ...string) *Stream {
	s := newStream(ctx)
	s.run(func(ctx context.Context) error {
		for _, f := range fragments {
			if err := s.send(ctx, f); err != nil {
				return err
			}
		}
		return nil
	})
	return s
}
