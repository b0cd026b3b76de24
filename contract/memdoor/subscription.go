package memdoor

import (
	"context"
	"sync"

	"github.com/weiihann/smartdoor/contract"
)

// subscription queues notifications without bound so that mining never
// blocks on a slow consumer.
type subscription struct {
	kinds  map[contract.EventKind]bool
	events chan contract.Event
	errs   chan error
	wake   chan struct{}
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
	remove func()

	mu    sync.Mutex
	queue []contract.Event
}

// Subscribe delivers mined notifications of kinds, or of every kind when
// none are given. Delivery never blocks mining.
func (d *Door) Subscribe(ctx context.Context, kinds ...contract.EventKind) (contract.Subscription, error) {
	s := &subscription{
		kinds:  make(map[contract.EventKind]bool, len(kinds)),
		events: make(chan contract.Event),
		errs:   make(chan error),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, k := range kinds {
		s.kinds[k] = true
	}

	c := d.c
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = s
	c.mu.Unlock()

	s.remove = func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}

	go s.pump()
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.quit:
		}
	}()

	return s, nil
}

// Subscribers reports how many subscriptions are open.
func (c *Contract) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.subs)
}

func (s *subscription) Events() <-chan contract.Event { return s.events }

func (s *subscription) Err() <-chan error { return s.errs }

func (s *subscription) Close() {
	s.once.Do(func() {
		s.remove()
		close(s.quit)
	})
	<-s.done
}

func (s *subscription) push(ev contract.Event) {
	if len(s.kinds) > 0 && !s.kinds[ev.Kind] {
		return
	}

	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) pump() {
	defer close(s.done)
	defer close(s.events)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()

			select {
			case <-s.wake:
				continue
			case <-s.quit:
				return
			}
		}

		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.events <- ev:
		case <-s.quit:
			return
		}
	}
}
