package bus

import (
	"context"
	"sync"
)

// Waiter is a one-shot registration for the next message matching a
// predicate. Register it with Expect before publishing the message that
// triggers the reply, so a fast reply cannot be missed.
type Waiter struct {
	id        uint64
	recipient string
	match     func(Message) bool
	ch        chan Message
	bus       *Bus
	once      sync.Once
}

// accepts runs under the bus lock; match must not call back into the bus.
func (w *Waiter) accepts(msg Message) bool {
	if w.recipient != "" && msg.Recipient != w.recipient && !msg.IsBroadcast() {
		return false
	}
	return w.match == nil || w.match(msg)
}

// Expect registers a waiter for the next message addressed to recipient
// (empty means any recipient) for which match returns true.
func (b *Bus) Expect(recipient string, match func(Message) bool) (*Waiter, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	w := &Waiter{
		id:        b.nextWaiter.Add(1),
		recipient: recipient,
		match:     match,
		ch:        make(chan Message, 1),
		bus:       b,
	}
	b.waiters[w.id] = w
	return w, nil
}

// Wait blocks until the matching message arrives, ctx ends or the bus closes.
func (w *Waiter) Wait(ctx context.Context) (Message, error) {
	defer w.Cancel()
	select {
	case msg := <-w.ch:
		return msg, nil
	default:
	}
	select {
	case msg := <-w.ch:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-w.bus.done:
		select {
		case msg := <-w.ch:
			return msg, nil
		default:
		}
		return Message{}, ErrBusClosed
	}
}

// Cancel removes the registration. It is safe to call more than once.
func (w *Waiter) Cancel() {
	w.once.Do(func() {
		w.bus.mu.Lock()
		delete(w.bus.waiters, w.id)
		w.bus.mu.Unlock()
	})
}

// WaitFor is Expect followed by Wait, for callers that publish the
// triggering message before waiting or do not trigger one at all.
func (b *Bus) WaitFor(ctx context.Context, recipient string, match func(Message) bool) (Message, error) {
	w, err := b.Expect(recipient, match)
	if err != nil {
		return Message{}, err
	}
	return w.Wait(ctx)
}
