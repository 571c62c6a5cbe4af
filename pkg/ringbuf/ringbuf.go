// Package ringbuf provides a fixed-capacity circular buffer of 16-bit PCM
// samples shared between one producer and one consumer goroutine.
//
// Writes never block: when the buffer is short of space the oldest unread
// samples are evicted. Reads may optionally wait (once) for new data. Every
// operation takes the internal lock with a bounded timeout and reports zero
// progress instead of blocking when the lock is contended.
package ringbuf

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Lock timeouts.
const (
	// LockTimeout bounds lock acquisition for Write, Read and Available.
	LockTimeout = 10 * time.Millisecond

	// ClearLockTimeout bounds lock acquisition for Clear.
	ClearLockTimeout = 100 * time.Millisecond
)

// Errors returned by the buffer.
var (
	ErrInvalidCapacity = errors.New("ringbuf: capacity must be positive")
	ErrLockTimeout     = errors.New("ringbuf: lock acquisition timed out")
)

// Buffer is a circular buffer of int16 samples with overwrite-on-full
// semantics. It is safe for concurrent use.
type Buffer struct {
	name   string
	logger *slog.Logger

	lock *semaphore.Weighted

	// guarded by lock
	data     []int16
	readPos  int
	writePos int
	count    int

	// ready is nil unless the buffer was created with blocking reads.
	ready chan struct{}

	overruns atomic.Int64
	onOver   func(evicted int)
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithLogger sets the logger used for overrun warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Buffer) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithName labels the buffer in log records.
func WithName(name string) Option {
	return func(b *Buffer) {
		b.name = name
	}
}

// WithOverrunHook registers fn to be called with the number of evicted
// samples each time a write overruns the buffer. fn runs with the lock held
// and must not call back into the buffer.
func WithOverrunHook(fn func(evicted int)) Option {
	return func(b *Buffer) {
		b.onOver = fn
	}
}

// New creates a buffer holding up to capacity samples. When blocking is
// true, Read can wait for a write to signal readiness.
func New(capacity int, blocking bool, opts ...Option) (*Buffer, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}

	b := &Buffer{
		name:   "ring",
		logger: slog.Default(),
		lock:   semaphore.NewWeighted(1),
		data:   make([]int16, capacity),
	}
	if blocking {
		b.ready = make(chan struct{}, 1)
	}

	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

func (b *Buffer) acquire(timeout time.Duration) bool {
	if b.lock.TryAcquire(1) {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return b.lock.Acquire(ctx, 1) == nil
}

func (b *Buffer) release() {
	b.lock.Release(1)
}

// Write copies all of data into the buffer, evicting the oldest unread
// samples when there is not enough free space. It returns len(data), or 0
// if the lock could not be acquired in time.
func (b *Buffer) Write(data []int16) int {
	n := len(data)
	if n == 0 {
		return 0
	}

	if !b.acquire(LockTimeout) {
		return 0
	}

	size := len(b.data)
	evicted := b.count + n - size
	if evicted < 0 {
		evicted = 0
	}

	if n >= size {
		// Only the tail of data survives.
		copy(b.data, data[n-size:])
		b.writePos = 0
		b.readPos = 0
		b.count = size
	} else {
		first := copy(b.data[b.writePos:], data)
		if first < n {
			copy(b.data, data[first:])
		}
		b.writePos = (b.writePos + n) % size
		if evicted > 0 {
			b.readPos = b.writePos
			b.count = size
		} else {
			b.count += n
		}
	}

	if evicted > 0 {
		b.overruns.Add(int64(evicted))
		if b.onOver != nil {
			b.onOver(evicted)
		}
	}
	b.release()

	if evicted > 0 {
		b.logger.Warn("ring buffer overrun, oldest samples dropped",
			"buffer", b.name,
			"dropped", evicted,
		)
	}

	if b.ready != nil {
		select {
		case b.ready <- struct{}{}:
		default:
		}
	}

	return n
}

// Read copies up to len(out) samples into out and returns the number copied.
//
// If the buffer is empty, was created with blocking reads and timeout is
// positive, Read waits once for a write (or the timeout) before copying. It
// never waits more than once per call.
func (b *Buffer) Read(out []int16, timeout time.Duration) int {
	if len(out) == 0 {
		return 0
	}

	if b.ready != nil && timeout > 0 && b.Available() == 0 {
		timer := time.NewTimer(timeout)
		select {
		case <-b.ready:
		case <-timer.C:
		}
		timer.Stop()
	}

	if !b.acquire(LockTimeout) {
		return 0
	}
	defer b.release()

	n := len(out)
	if n > b.count {
		n = b.count
	}
	if n == 0 {
		return 0
	}

	size := len(b.data)
	first := copy(out[:n], b.data[b.readPos:])
	if first < n {
		copy(out[first:n], b.data)
	}
	b.readPos = (b.readPos + n) % size
	b.count -= n

	return n
}

// Available returns the number of unread samples. The value is a snapshot
// and may be stale by the time the caller acts on it. It returns 0 when the
// lock is contended.
func (b *Buffer) Available() int {
	if !b.acquire(LockTimeout) {
		return 0
	}
	defer b.release()
	return b.count
}

// Free returns Capacity() - Available().
func (b *Buffer) Free() int {
	return len(b.data) - b.Available()
}

// Capacity returns the fixed capacity set at creation.
func (b *Buffer) Capacity() int {
	return len(b.data)
}

// Clear discards all unread samples. Storage is not zeroed.
func (b *Buffer) Clear() error {
	if !b.acquire(ClearLockTimeout) {
		return ErrLockTimeout
	}
	defer b.release()

	b.readPos = 0
	b.writePos = 0
	b.count = 0
	return nil
}

// Overruns returns the total number of samples evicted by overwrites.
func (b *Buffer) Overruns() int64 {
	return b.overruns.Load()
}
