package engine

import (
	"sync"

	"go.uber.org/zap"
)

// EventKind identifies an engine notification.
type EventKind int

const (
	SlotsChanged EventKind = iota + 1
	ClipListChanged
	PlaybackStarted
	PlaybackStopped
	RecentlyUsedChanged
)

func (k EventKind) String() string {
	switch k {
	case SlotsChanged:
		return "slots_changed"
	case ClipListChanged:
		return "clip_list_changed"
	case PlaybackStarted:
		return "playback_started"
	case PlaybackStopped:
		return "playback_stopped"
	case RecentlyUsedChanged:
		return "recently_used_changed"
	default:
		return "unknown"
	}
}

// Event is one notification. Slot is set for playback events and -1
// otherwise.
type Event struct {
	Kind EventKind `json:"-"`
	Name string    `json:"event"`
	Slot int       `json:"slot"`
}

func newEvent(kind EventKind, slot int) Event {
	return Event{Kind: kind, Name: kind.String(), Slot: slot}
}

// Subscription receives events in emit order until Unsubscribe.
type Subscription struct {
	C <-chan Event

	c chan Event
}

const subscriptionBuffer = 64

// hub fans events out to subscribers. A subscriber whose buffer is full
// misses the event rather than stalling the control loop.
type hub struct {
	log *zap.Logger

	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func newHub(log *zap.Logger) *hub {
	return &hub{log: log, subs: make(map[*Subscription]struct{})}
}

func (h *hub) subscribe() *Subscription {
	c := make(chan Event, subscriptionBuffer)
	s := &Subscription{C: c, c: c}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.c)
}

func (h *hub) publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		select {
		case s.c <- ev:
		default:
			h.log.Warn("subscriber too slow, event dropped", zap.Stringer("event", ev.Kind))
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		delete(h.subs, s)
		close(s.c)
	}
}
