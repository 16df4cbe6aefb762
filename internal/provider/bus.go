package provider

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"trustkit/internal/domain"
)

type subscription struct {
	kind    domain.VerificationEventKind
	handler func(domain.VerificationEvent)
}

// Bus fans verification events out to subscribers. Handlers run on the
// publishing goroutine.
type Bus struct {
	next atomic.Uint64
	subs *xsync.Map[uint64, subscription]
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: xsync.NewMap[uint64, subscription]()}
}

// Subscribe registers handler for events of kind. The returned function
// removes the handler and is safe to call repeatedly.
func (b *Bus) Subscribe(kind domain.VerificationEventKind, handler func(domain.VerificationEvent)) domain.Unsubscribe {
	id := b.next.Add(1)
	b.subs.Store(id, subscription{kind: kind, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { b.subs.Delete(id) })
	}
}

// Publish delivers ev to every handler subscribed to ev.Kind.
func (b *Bus) Publish(ev domain.VerificationEvent) {
	var targets []func(domain.VerificationEvent)
	b.subs.Range(func(_ uint64, s subscription) bool {
		if s.kind == ev.Kind {
			targets = append(targets, s.handler)
		}
		return true
	})
	for _, h := range targets {
		h(ev)
	}
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int { return b.subs.Size() }
