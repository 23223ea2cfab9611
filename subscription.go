package e2ee

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"
)

// epochListener is one OnEpochChange registration.
type epochListener struct {
	id       uint64
	callback func(EpochChange)
	active   atomic.Bool
}

// epochSubscriptions fans key epoch changes out to listeners.
// Callbacks are never invoked after their unsubscribe function returns.
type epochSubscriptions struct {
	mu        sync.RWMutex
	listeners map[uint64]*epochListener
	nextID    atomic.Uint64
}

func newEpochSubscriptions() *epochSubscriptions {
	return &epochSubscriptions{
		listeners: make(map[uint64]*epochListener),
	}
}

// subscribe registers callback and returns its unsubscribe function.
func (m *epochSubscriptions) subscribe(callback func(EpochChange)) func() {
	l := &epochListener{
		id:       m.nextID.Add(1),
		callback: callback,
	}
	l.active.Store(true)

	m.mu.Lock()
	m.listeners[l.id] = l
	m.mu.Unlock()

	return func() {
		m.unsubscribe(l.id)
	}
}

// unsubscribe removes a listener. Safe to call multiple times.
func (m *epochSubscriptions) unsubscribe(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.listeners[id]; ok {
		l.active.Store(false)
		delete(m.listeners, id)
	}
}

// notify calls every listener in registration order, outside the lock.
func (m *epochSubscriptions) notify(change EpochChange) {
	m.mu.RLock()
	if len(m.listeners) == 0 {
		m.mu.RUnlock()
		return
	}
	ls := make([]*epochListener, 0, len(m.listeners))
	for _, l := range m.listeners {
		ls = append(ls, l)
	}
	m.mu.RUnlock()

	slices.SortFunc(ls, func(a, b *epochListener) int { return cmp.Compare(a.id, b.id) })
	for _, l := range ls {
		if l.active.Load() {
			l.callback(change)
		}
	}
}

// clear removes all listeners. Called during Client.Close().
func (m *epochSubscriptions) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range m.listeners {
		l.active.Store(false)
	}
	m.listeners = make(map[uint64]*epochListener)
}
