package trace

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrBatcherStopped is returned by [Batcher.Submit] once the batcher has
	// been shut down or closed.
	ErrBatcherStopped = errors.New(`trace: batcher stopped`)

	errBatchPanicked = errors.New(`trace: panic in batch processor`)
)

type (
	// BatcherConfig models optional configuration, for [NewBatcher].
	BatcherConfig struct {
		// MaxSize is the maximum number of items per batch, if positive.
		// Defaults to 64.
		MaxSize int

		// FlushInterval is the maximum time an incomplete batch may wait,
		// if positive. Defaults to 100ms. May be disabled (negative) only if
		// MaxSize is positive.
		FlushInterval time.Duration

		// MaxConcurrency is the maximum number of in-flight processor calls,
		// if positive. Defaults to 1, which preserves submission order.
		MaxConcurrency int
	}

	// BatchProcessor handles a batch. Items must not be retained after it
	// returns.
	BatchProcessor[T any] func(ctx context.Context, items []T) error

	// Batcher groups submitted items into batches, bounded by size and age.
	// Instances must be initialized using the [NewBatcher] factory.
	Batcher[T any] struct {
		// betteralign:ignore

		processor      BatchProcessor[T]
		maxSize        int
		flushInterval  time.Duration
		maxConcurrency int
		ctx            context.Context
		cancel         context.CancelFunc
		done           chan struct{}
		stopped        chan struct{}
		stopOnce       sync.Once
		itemCh         chan T         // ping
		pendingCh      chan *batch[T] // pong
		current        *batch[T]
	}

	batch[T any] struct {
		result *batchResult
		items  []T
	}

	batchResult struct {
		err  error
		done chan struct{}
	}

	// Pending is the outcome of a submitted item, see [Pending.Wait].
	Pending struct {
		result *batchResult
	}
)

// NewBatcher starts a batcher. A nil config uses the defaults. Either
// [Batcher.Shutdown] or [Batcher.Close] must be called to release it.
func NewBatcher[T any](config *BatcherConfig, processor BatchProcessor[T]) (*Batcher[T], error) {
	if processor == nil {
		return nil, errors.New(`trace: nil batch processor`)
	}

	x := Batcher[T]{
		processor:      processor,
		maxSize:        64,
		flushInterval:  time.Millisecond * 100,
		maxConcurrency: 1,
		current:        newBatch[T](),
		done:           make(chan struct{}),
		stopped:        make(chan struct{}),
		itemCh:         make(chan T),
		pendingCh:      make(chan *batch[T]),
	}

	if config != nil {
		if config.MaxSize != 0 {
			x.maxSize = config.MaxSize
		}
		if config.FlushInterval != 0 {
			x.flushInterval = config.FlushInterval
		}
		if config.MaxConcurrency != 0 {
			x.maxConcurrency = config.MaxConcurrency
		}
	}

	if x.flushInterval <= 0 && x.maxSize <= 0 {
		return nil, errors.New(`trace: one of MaxSize or FlushInterval must be positive`)
	}

	x.ctx, x.cancel = context.WithCancel(context.Background())

	go x.run()

	return &x, nil
}

// Submit adds an item to the current batch. It blocks only while the batcher
// is waiting on a free processor slot.
func (x *Batcher[T]) Submit(ctx context.Context, item T) (*Pending, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	select {
	case <-x.stopped:
		return nil, ErrBatcherStopped
	case <-x.ctx.Done():
		return nil, ErrBatcherStopped
	default:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-x.ctx.Done():
		return nil, ErrBatcherStopped
	case <-x.stopped:
		return nil, ErrBatcherStopped
	case x.itemCh <- item:
		b := <-x.pendingCh
		return &Pending{result: b.result}, nil
	}
}

// Shutdown stops accepting items, flushes the current batch, and waits for
// every batch to be processed. If ctx is done first, in-flight batches are
// canceled, and ctx's error is returned.
//
// Must not be called from within the processor.
func (x *Batcher[T]) Shutdown(ctx context.Context) (err error) {
	x.stop()
	select {
	case <-ctx.Done():
		if x.ctx.Err() == nil {
			err = ctx.Err()
		}
		x.cancel()
		<-x.done
	case <-x.done:
	}
	return err
}

// Close cancels in-flight batches, drops the current batch, and waits for
// the batcher to exit.
//
// Must not be called from within the processor.
func (x *Batcher[T]) Close() error {
	x.cancel()
	x.stop()
	<-x.done
	return nil
}

func (x *Batcher[T]) stop() {
	x.stopOnce.Do(func() { close(x.stopped) })
}

func (x *Batcher[T]) run() {
	defer close(x.done)
	defer x.cancel()

	var (
		wg    sync.WaitGroup
		slots chan struct{}
	)
	if x.maxConcurrency > 0 {
		slots = make(chan struct{}, x.maxConcurrency)
	}

	dispatch := func() {
		if len(x.current.items) == 0 {
			return
		}
		b := x.current
		x.current = newBatch[T]()
		if slots != nil {
			select {
			case slots <- struct{}{}:
			case <-x.ctx.Done():
				b.result.finish(x.ctx.Err())
				return
			}
		}
		wg.Add(1)
		go func() {
			defer func() {
				if slots != nil {
					<-slots
				}
				wg.Done()
			}()
			b.process(x.ctx, x.processor)
		}()
	}

	// expired batches are sent here, by their timer goroutine
	expired := make(chan *batch[T])

	defer func() {
		if x.ctx.Err() == nil {
			dispatch()
		} else if len(x.current.items) != 0 {
			x.current.result.finish(x.ctx.Err())
		}
		wg.Wait()
	}()

	for {
		select {
		case <-x.ctx.Done():
			return

		case <-x.stopped:
			return

		case item := <-x.itemCh:
			x.pendingCh <- x.current
			x.current.items = append(x.current.items, item)
			if x.maxSize > 0 && len(x.current.items) >= x.maxSize {
				dispatch()
			} else if x.flushInterval > 0 && len(x.current.items) == 1 {
				go x.expire(x.current, expired)
			}

		case b := <-expired:
			if b == x.current {
				dispatch()
			}
		}
	}
}

// expire sends b to ch once the flush interval elapses, unless it has
// already been processed, or the batcher is stopping.
func (x *Batcher[T]) expire(b *batch[T], ch chan<- *batch[T]) {
	timer := time.NewTimer(x.flushInterval)
	defer timer.Stop()
	select {
	case <-x.ctx.Done():
	case <-x.stopped:
	case <-b.result.done:
	case <-timer.C:
		select {
		case <-x.ctx.Done():
		case <-x.stopped:
		case <-b.result.done:
		case ch <- b:
		}
	}
}

func newBatch[T any]() *batch[T] {
	return &batch[T]{result: &batchResult{done: make(chan struct{})}}
}

func (x *batch[T]) process(ctx context.Context, processor BatchProcessor[T]) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	err := errBatchPanicked
	defer func() { x.result.finish(err) }()
	err = processor(ctx, x.items)
}

func (x *batchResult) finish(err error) {
	x.err = err
	close(x.done)
}

// Wait blocks until the item's batch has been processed, returning the
// processor's error.
func (x *Pending) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-x.result.done:
		return x.result.err
	}
}
