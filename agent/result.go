package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/careerflow/types"
)

// Result is the structured outcome of Agent.Process. On success Data and
// Metrics are set; on failure ErrorKind and ErrorDetail are.
type Result struct {
	Success     bool            `json:"success"`
	Data        types.Payload   `json:"data,omitempty"`
	Metrics     types.Payload   `json:"metrics,omitempty"`
	ErrorKind   types.ErrorCode `json:"error_kind,omitempty"`
	ErrorDetail string          `json:"error_detail,omitempty"`
	// Final marks a failure whose retries the agent already spent.
	Final bool `json:"final,omitempty"`
}

// Succeeded builds a successful result.
func Succeeded(data, metrics types.Payload) Result {
	return Result{Success: true, Data: data, Metrics: metrics}
}

// Failed builds a failed result.
func Failed(kind types.ErrorCode, detail string) Result {
	if kind == "" {
		kind = types.ErrInternalError
	}
	return Result{ErrorKind: kind, ErrorDetail: detail}
}

// FailedFromError classifies err into a failed result. Context errors map to
// TIMEOUT and CANCELLED; unclassified errors are INTERNAL_ERROR.
func FailedFromError(err error) Result {
	if err == nil {
		return Failed(types.ErrInternalError, "unknown failure")
	}
	if code := types.GetErrorCode(err); code != "" {
		return Failed(code, err.Error())
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Failed(types.ErrTimeout, err.Error())
	case errors.Is(err, context.Canceled):
		return Failed(types.ErrCancelled, err.Error())
	default:
		return Failed(types.ErrInternalError, err.Error())
	}
}

// AsFinal returns a copy of r that callers must not retry.
func (r Result) AsFinal() Result {
	r.Final = true
	return r
}

// Retryable reports whether a failed result has a transient kind and was
// not marked final.
func (r Result) Retryable() bool {
	return !r.Success && !r.Final && r.ErrorKind.Transient()
}

// Err converts a failed result back into a *types.Error.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return types.NewError(r.ErrorKind, r.ErrorDetail).WithRetryable(r.Retryable())
}

// WithMetric returns a copy of r with one metric added.
func (r Result) WithMetric(key string, value any) Result {
	m := r.Metrics.Clone()
	if m == nil {
		m = types.Payload{}
	}
	m[key] = value
	r.Metrics = m
	return r
}

// Payload encodes r for transport on the message bus.
func (r Result) Payload() types.Payload {
	p := types.Payload{"success": r.Success}
	if r.Data != nil {
		p["data"] = r.Data.Clone()
	}
	if r.Metrics != nil {
		p["metrics"] = r.Metrics.Clone()
	}
	if !r.Success {
		p["error_kind"] = string(r.ErrorKind)
		p["error_detail"] = r.ErrorDetail
		if r.Final {
			p["final"] = true
		}
	}
	return p
}

// ResultFromPayload decodes a result produced by Result.Payload.
func ResultFromPayload(p types.Payload) (Result, error) {
	if p == nil {
		return Result{}, types.NewError(types.ErrMalformedResponse, "empty result payload")
	}
	success, ok := p["success"].(bool)
	if !ok {
		return Result{}, types.NewError(types.ErrMalformedResponse, fmt.Sprintf("result payload missing success flag: %v", p.Keys()))
	}
	r := Result{
		Success: success,
		Data:    p.Map("data"),
		Metrics: p.Map("metrics"),
	}
	if !success {
		r.ErrorKind = types.ErrorCode(p.String("error_kind"))
		r.ErrorDetail = p.String("error_detail")
		r.Final, _ = p["final"].(bool)
		if r.ErrorKind == "" {
			r.ErrorKind = types.ErrInternalError
		}
	}
	return r, nil
}
