package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/careerflow/agent/bus"
	"github.com/BaSui01/careerflow/internal/ctxkeys"
	"github.com/BaSui01/careerflow/types"
)

// Payload keys of the request/response protocol between the engine and
// attached agents.
const (
	KeyRequestID = "request_id"
	KeyStep      = "step"
	KeyAttempt   = "attempt"
	KeyTimeoutMS = "timeout_ms"
	KeyInput     = "input"
	KeyResult    = "result"
)

// Keys of the input mapping the engine hands to every step.
const (
	InputRunID    = "run_id"
	InputStep     = "step"
	InputJob      = "job"
	InputWorkflow = "workflow"
	InputParams   = "params"
	InputUpstream = "upstream"
)

// Attachment is a live bus subscription serving one agent.
type Attachment struct {
	bus    *bus.Bus
	id     string
	agent  string
	wg     sync.WaitGroup
	once   sync.Once
	logger *zap.Logger
}

// Attach subscribes a to requests addressed to its name. Each request runs
// in its own goroutine, bounded by the request's timeout_ms, and is answered
// with a response carrying the request ID and the encoded Result. Requests
// without an input mapping are rejected so the bus reports the failure to
// the sender.
func Attach(b *bus.Bus, a Agent, logger *zap.Logger) (*Attachment, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	att := &Attachment{
		bus:    b,
		agent:  a.Name(),
		logger: logger.With(zap.String("component", "agent_attachment"), zap.String("agent", a.Name())),
	}

	id, err := b.Subscribe(a.Name(), func(ctx context.Context, msg bus.Message) error {
		if msg.Kind != bus.KindRequest {
			return nil
		}
		input := msg.Payload.Map(KeyInput)
		if input == nil {
			return types.Errorf(types.ErrInvalidRequest, "request %s has no input", msg.ID)
		}

		att.wg.Add(1)
		go att.serve(ctx, a, msg, input)
		return nil
	})
	if err != nil {
		return nil, err
	}
	att.id = id
	return att, nil
}

func (att *Attachment) serve(ctx context.Context, a Agent, msg bus.Message, input types.Payload) {
	defer att.wg.Done()

	ctx = ctxkeys.WithRunID(ctx, msg.CorrelationID)
	if step, ok := msg.Payload[KeyStep].(string); ok {
		ctx = ctxkeys.WithStep(ctx, step)
	}
	if n, ok := msg.Payload.Float(KeyAttempt); ok {
		ctx = ctxkeys.WithAttempt(ctx, int(n))
	}
	if ms, ok := msg.Payload.Float(KeyTimeoutMS); ok && ms > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
		defer cancel()
	}

	var res Result
	func() {
		defer func() {
			if r := recover(); r != nil {
				res = Failed(types.ErrInternalError, fmt.Sprintf("agent panic: %v", r))
			}
		}()
		res = a.Process(ctx, input)
	}()

	reply := msg.Reply(att.agent, bus.KindResponse, types.Payload{
		KeyRequestID: msg.ID,
		KeyStep:      msg.Payload[KeyStep],
		KeyAttempt:   msg.Payload[KeyAttempt],
		KeyResult:    res.Payload(),
	})
	if err := att.bus.Publish(reply); err != nil && !errors.Is(err, bus.ErrBusClosed) {
		att.logger.Error("failed to publish response",
			zap.String("request_id", msg.ID),
			zap.String("correlation_id", msg.CorrelationID),
			zap.Error(err),
		)
	}
}

// Agent 返回所服务的智能体名称
func (att *Attachment) Agent() string { return att.agent }

// Detach unsubscribes and waits for in-flight requests to finish.
func (att *Attachment) Detach() {
	att.once.Do(func() {
		att.bus.Unsubscribe(att.id)
		att.wg.Wait()
	})
}
