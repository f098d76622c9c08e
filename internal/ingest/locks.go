package ingest

import (
	"context"
	"sync"
)

// companyLocks serializes the read-reconcile-write section per company
// across every batch sharing a Pipeline.
type companyLocks struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// lock blocks until company is free or ctx is done. The returned func
// releases the lock.
func (l *companyLocks) lock(ctx context.Context, company string) (func(), error) {
	l.mu.Lock()
	if l.slots == nil {
		l.slots = make(map[string]*lockSlot)
	}
	s, ok := l.slots[company]
	if !ok {
		s = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[company] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(company, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(company, s)
		})
	}, nil
}

func (l *companyLocks) release(company string, s *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, company)
	}
}

func (l *companyLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
