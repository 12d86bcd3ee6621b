package transport

import (
	"context"
	"sync"
)

type writeRequest struct {
	frame  []byte
	result chan error
}

// writer funnels every outbound frame through one goroutine, so
// concurrent Sends on a Conn never interleave bytes on the wire.
type writer struct {
	requests chan writeRequest
	stop     chan struct{}
	once     sync.Once
}

func newWriter(write func(frame []byte) error) *writer {
	w := &writer{
		requests: make(chan writeRequest),
		stop:     make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-w.stop:
				return
			case req := <-w.requests:
				req.result <- write(req.frame)
			}
		}
	}()
	return w
}

func (w *writer) send(ctx context.Context, frame []byte) error {
	req := writeRequest{frame: frame, result: make(chan error, 1)}
	select {
	case w.requests <- req:
	case <-w.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *writer) close() {
	w.once.Do(func() { close(w.stop) })
}
