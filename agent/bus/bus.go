// Package bus is the in-process publish/subscribe channel that carries
// requests, responses, errors and status updates between the workflow engine
// and agents.
//
// Every subscription owns a bounded mailbox drained by its own goroutine, so
// delivery to one subscriber preserves publish order and a slow or failing
// subscriber never blocks the others. Handler failures are reported back to
// the original sender as KindError messages from SenderBus.
package bus

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/BaSui01/careerflow/types"
)

const (
	DefaultMailboxSize = 1024
	DefaultHistorySize = 10000
)

var (
	ErrBusClosed      = errors.New("message bus closed")
	ErrInvalidMessage = errors.New("invalid message")
)

// Handler 消息处理函数，返回错误会被上报给发送方
type Handler func(ctx context.Context, msg Message) error

// Recorder receives bus counters. internal/metrics.Collector implements it.
type Recorder interface {
	RecordBusPublish(kind string)
	RecordBusDrop(subscriber string)
	RecordBusHandlerError(subscriber string)
}

// Stats is a point-in-time view of bus counters.
type Stats struct {
	Published     int64
	Delivered     int64
	Dropped       int64
	HandlerErrors int64
	Evicted       int64
	Subscriptions int
	Retained      int
}

// Filter selects messages from history. Zero fields match everything; Limit
// keeps only the most recent matches.
type Filter struct {
	Sender        string
	Recipient     string
	Kind          Kind
	CorrelationID string
	Limit         int
}

func (f Filter) match(m Message) bool {
	if f.Sender != "" && m.Sender != f.Sender {
		return false
	}
	if f.Recipient != "" && m.Recipient != f.Recipient {
		return false
	}
	if f.Kind != "" && m.Kind != f.Kind {
		return false
	}
	if f.CorrelationID != "" && m.CorrelationID != f.CorrelationID {
		return false
	}
	return true
}

type subscription struct {
	id      string
	topic   string
	handler Handler
	mailbox chan Message
	quit    chan struct{}
}

// Option configures a Bus.
type Option func(*Bus)

// WithMailboxSize sets the per-subscription queue capacity.
func WithMailboxSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.mailboxSize = n
		}
	}
}

// WithHistorySize bounds the retained history; older messages are evicted first.
func WithHistorySize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.historySize = n
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithRecorder 设置指标记录器
func WithRecorder(r Recorder) Option {
	return func(b *Bus) { b.recorder = r }
}

// Bus 消息总线
type Bus struct {
	mu          sync.RWMutex
	subs        map[string]*subscription
	byTopic     map[string][]*subscription
	waiters     map[uint64]*Waiter
	history     []Message
	head        int
	mailboxSize int
	historySize int
	closed      bool

	nextSub    atomic.Uint64
	nextWaiter atomic.Uint64

	published     atomic.Int64
	delivered     atomic.Int64
	dropped       atomic.Int64
	handlerErrors atomic.Int64
	evicted       atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
	logger    *zap.Logger
	recorder  Recorder
}

// New 创建消息总线
func New(opts ...Option) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		subs:        make(map[string]*subscription),
		byTopic:     make(map[string][]*subscription),
		waiters:     make(map[uint64]*Waiter),
		mailboxSize: DefaultMailboxSize,
		historySize: DefaultHistorySize,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(zap.String("component", "message_bus"))
	return b
}

// Subscribe registers handler for messages addressed to topic and for
// broadcasts. Several subscriptions per topic are allowed; each receives its
// own copy. The returned ID is passed to Unsubscribe.
func (b *Bus) Subscribe(topic string, handler Handler) (string, error) {
	if topic == "" || topic == Broadcast {
		return "", fmt.Errorf("subscribe: invalid topic %q", topic)
	}
	if handler == nil {
		return "", errors.New("subscribe: nil handler")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrBusClosed
	}

	sub := &subscription{
		id:      fmt.Sprintf("%s-%d", topic, b.nextSub.Add(1)),
		topic:   topic,
		handler: handler,
		mailbox: make(chan Message, b.mailboxSize),
		quit:    make(chan struct{}),
	}
	b.subs[sub.id] = sub
	b.byTopic[topic] = append(b.byTopic[topic], sub)

	b.wg.Add(1)
	go b.run(sub)

	b.logger.Debug("subscribed", zap.String("topic", topic), zap.String("subscription_id", sub.id))
	return sub.id, nil
}

// Unsubscribe 取消订阅，未处理的消息会被丢弃
func (b *Bus) Unsubscribe(subscriptionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[subscriptionID]
	if !ok {
		return false
	}
	delete(b.subs, subscriptionID)

	list := b.byTopic[sub.topic]
	for i, s := range list {
		if s == sub {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(b.byTopic, sub.topic)
	} else {
		b.byTopic[sub.topic] = list
	}
	close(sub.quit)
	return true
}

// Publish appends msg to history and hands it to every matching mailbox.
// It returns once delivery is queued. A full mailbox drops the message for
// that subscriber only and the drop is reported to the sender.
func (b *Bus) Publish(msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	msg = msg.clone()

	var failures []Message

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}

	b.appendHistory(msg)
	b.published.Add(1)

	for _, sub := range b.targets(msg) {
		select {
		case sub.mailbox <- msg.clone():
			b.delivered.Add(1)
		default:
			b.dropped.Add(1)
			if b.recorder != nil {
				b.recorder.RecordBusDrop(sub.topic)
			}
			b.logger.Warn("mailbox full, message dropped",
				zap.String("subscription_id", sub.id),
				zap.String("message_id", msg.ID),
				zap.String("correlation_id", msg.CorrelationID),
			)
			if f, ok := failureReport(msg, sub, errors.New("subscriber mailbox full")); ok {
				failures = append(failures, f)
			}
		}
	}

	for id, w := range b.waiters {
		if w.accepts(msg) {
			delete(b.waiters, id)
			w.ch <- msg.clone()
		}
	}
	if b.recorder != nil {
		b.recorder.RecordBusPublish(string(msg.Kind))
	}
	b.mu.Unlock()

	for _, f := range failures {
		_ = b.Publish(f)
	}
	return nil
}

// targets must be called with b.mu held.
func (b *Bus) targets(msg Message) []*subscription {
	if !msg.IsBroadcast() {
		return b.byTopic[msg.Recipient]
	}
	out := make([]*subscription, 0, len(b.subs))
	for topic, list := range b.byTopic {
		if topic == msg.Sender {
			continue
		}
		out = append(out, list...)
	}
	return out
}

func (b *Bus) appendHistory(msg Message) {
	if len(b.history) < b.historySize {
		b.history = append(b.history, msg)
		return
	}
	b.history[b.head] = msg
	b.head = (b.head + 1) % len(b.history)
	b.evicted.Add(1)
}

// snapshot copies retained messages in publish order.
func (b *Bus) snapshot(f Filter) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.history)
	out := make([]Message, 0)
	for i := 0; i < n; i++ {
		m := b.history[(b.head+i)%n]
		if f.match(m) {
			out = append(out, m)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// History yields every retained message with the given correlation ID in
// publish order. The sequence is lazy and restartable: each range over it
// takes a fresh snapshot.
func (b *Bus) History(correlationID string) iter.Seq[Message] {
	return func(yield func(Message) bool) {
		for _, m := range b.snapshot(Filter{CorrelationID: correlationID}) {
			if !yield(m.clone()) {
				return
			}
		}
	}
}

// Query returns retained messages matching f in publish order.
func (b *Bus) Query(f Filter) []Message {
	msgs := b.snapshot(f)
	for i := range msgs {
		msgs[i] = msgs[i].clone()
	}
	return msgs
}

// Stats 返回总线统计信息
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	subs, retained := len(b.subs), len(b.history)
	b.mu.RUnlock()
	return Stats{
		Published:     b.published.Load(),
		Delivered:     b.delivered.Load(),
		Dropped:       b.dropped.Load(),
		HandlerErrors: b.handlerErrors.Load(),
		Evicted:       b.evicted.Load(),
		Subscriptions: subs,
		Retained:      retained,
	}
}

// Close stops accepting messages, cancels the handler context and waits for
// subscription workers to exit. Pending mailbox entries are discarded.
func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		for id, sub := range b.subs {
			close(sub.quit)
			delete(b.subs, id)
		}
		b.byTopic = make(map[string][]*subscription)
		b.mu.Unlock()

		b.cancel()
		close(b.done)
		b.wg.Wait()
		b.logger.Debug("message bus closed")
	})
	return nil
}

func (b *Bus) run(sub *subscription) {
	defer b.wg.Done()
	for {
		select {
		case <-sub.quit:
			return
		case msg := <-sub.mailbox:
			if err := b.invoke(sub, msg); err != nil {
				b.handlerErrors.Add(1)
				if b.recorder != nil {
					b.recorder.RecordBusHandlerError(sub.topic)
				}
				b.logger.Warn("handler failed",
					zap.String("subscription_id", sub.id),
					zap.String("message_id", msg.ID),
					zap.String("correlation_id", msg.CorrelationID),
					zap.Error(err),
				)
				if f, ok := failureReport(msg, sub, err); ok {
					if perr := b.Publish(f); perr != nil && !errors.Is(perr, ErrBusClosed) {
						b.logger.Error("failed to report handler failure", zap.Error(perr))
					}
				}
			}
		}
	}
}

func (b *Bus) invoke(sub *subscription, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.Errorf(types.ErrInternalError, "handler panic: %v", r)
		}
	}()
	return sub.handler(b.ctx, msg)
}

// failureReport builds the error message sent back to msg's sender. Failures
// while handling a bus-originated error are not reported again.
func failureReport(msg Message, sub *subscription, cause error) (Message, bool) {
	if msg.Sender == "" || msg.Sender == Broadcast {
		return Message{}, false
	}
	if msg.Kind == KindError && msg.Sender == SenderBus {
		return Message{}, false
	}
	return msg.Reply(SenderBus, KindError, types.Payload{
		KeyError:             cause.Error(),
		KeyOriginalMessageID: msg.ID,
		KeySubscriber:        sub.topic,
	}), true
}
