package pipeline

import (
	"context"
	"sync"
)

// Block is one resampled audio block tagged with its capture sequence number.
type Block struct {
	Seq     int
	Samples []int16
}

// Queue is the bounded FIFO between the capture and upload workers. It has
// one producer and one consumer. Put of several blocks is atomic with respect
// to Close, so a lead-in flush is never split by end of stream.
type Queue struct {
	mu     sync.Mutex
	ch     chan Block
	closed bool
}

func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan Block, max(capacity, 1))}
}

// Put appends blocks in order, waiting for space. It returns ctx.Err() if
// ctx ends first and ErrQueueClosed after Close.
func (q *Queue) Put(ctx context.Context, blocks ...Block) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	for _, b := range blocks {
		select {
		case q.ch <- b:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Take returns the next block. ok is false once the queue is closed and
// drained.
func (q *Queue) Take(ctx context.Context) (b Block, ok bool, err error) {
	select {
	case b, ok = <-q.ch:
		return b, ok, nil
	case <-ctx.Done():
		return Block{}, false, ctx.Err()
	}
}

// Close marks end of stream. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

func (q *Queue) Len() int {
	return len(q.ch)
}

// Clear discards every buffered block and reports how many were dropped.
func (q *Queue) Clear() int {
	n := 0
	for {
		select {
		case _, ok := <-q.ch:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}
