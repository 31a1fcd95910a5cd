package llm

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const defaultSlotTimeout = 5 * time.Minute

// Limited caps the number of provider streams open at once. A slot is held
// from Stream until the returned stream is closed.
type Limited struct {
	inner    Provider
	slots    chan struct{} // token bucket
	waitSlot time.Duration
}

func NewLimited(inner Provider, concurrent int, waitSlot time.Duration) *Limited {
	if waitSlot <= 0 {
		waitSlot = defaultSlotTimeout
	}
	slots := make(chan struct{}, concurrent)
	for i := 0; i < concurrent; i++ {
		slots <- struct{}{}
	}
	return &Limited{inner: inner, slots: slots, waitSlot: waitSlot}
}

func (l *Limited) Name() string {
	return l.inner.Name()
}

func (l *Limited) Close() error {
	return l.inner.Close()
}

// acquire blocks until a slot is available
func (l *Limited) acquire(ctx context.Context) error {
	timer := time.NewTimer(l.waitSlot)
	defer timer.Stop()
	select {
	case <-l.slots:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.Errorf("timeout waiting for %s slot", l.inner.Name())
	}
}

func (l *Limited) release() {
	l.slots <- struct{}{}
}

func (l *Limited) Stream(ctx context.Context, req Request) (Stream, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, &UpstreamError{Provider: l.inner.Name(), Err: err}
	}
	s, err := l.inner.Stream(ctx, req)
	if err != nil {
		l.release()
		return nil, err
	}
	return &limitedStream{Stream: s, release: l.release}, nil
}

type limitedStream struct {
	Stream
	once    sync.Once
	release func()
}

func (s *limitedStream) Close() error {
	err := s.Stream.Close()
	s.once.Do(s.release)
	return err
}
