// Package notifytest provides an in-memory Notifier for tests.
package notifytest

import (
	"context"
	"errors"
	"sync"

	"library-backend/internal/platform/notify"
)

var ErrDeliveryFailed = errors.New("delivery failed")

type Recorder struct {
	mu   sync.Mutex
	msgs []notify.Message
	Fail bool
}

func (r *Recorder) Notify(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail {
		return ErrDeliveryFailed
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *Recorder) Messages() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.msgs...)
}

// Last returns the most recent message with the given event.
func (r *Recorder) Last(ev notify.Event) (notify.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if r.msgs[i].Event == ev {
			return r.msgs[i], true
		}
	}
	return notify.Message{}, false
}

func (r *Recorder) Count(ev notify.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.Event == ev {
			n++
		}
	}
	return n
}
