package agent

import (
	"context"

	"github.com/BaSui01/careerflow/types"
)

// Generator stands in for the language-model call. Failures carry
// RATE_LIMITED, INVALID_REQUEST or UPSTREAM_UNAVAILABLE codes.
type Generator interface {
	Generate(ctx context.Context, prompt types.Payload) (types.Payload, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt types.Payload) (types.Payload, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt types.Payload) (types.Payload, error) {
	return f(ctx, prompt)
}

// Fetcher retrieves the raw document behind a job reference. Failures carry
// NOT_FOUND, BLOCKED or TIMEOUT codes.
type Fetcher interface {
	Fetch(ctx context.Context, jobRef types.Payload) (types.Payload, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, jobRef types.Payload) (types.Payload, error)

func (f FetcherFunc) Fetch(ctx context.Context, jobRef types.Payload) (types.Payload, error) {
	return f(ctx, jobRef)
}

// Exporter hands the final payload of a run to external storage and returns
// a reference to it.
type Exporter interface {
	Export(ctx context.Context, runID string, final types.Payload) (string, error)
}

// ExporterFunc adapts a function to Exporter.
type ExporterFunc func(ctx context.Context, runID string, final types.Payload) (string, error)

func (f ExporterFunc) Export(ctx context.Context, runID string, final types.Payload) (string, error) {
	return f(ctx, runID, final)
}
