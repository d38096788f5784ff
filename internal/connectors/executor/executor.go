package executor

import (
	"context"
	"errors"
	"time"

	"github.com/lewisedginton/mesh_llm_relay/internal/connectors/bridge"
	"github.com/lewisedginton/mesh_llm_relay/pkg/logger"
	"github.com/lewisedginton/mesh_llm_relay/pkg/metrics"
)

// Generator produces reply text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Executor turns a prompt into reply text. It never returns an error:
// failures become the fixed fallback or placeholder replies.
type Executor struct {
	generator Generator
	logger    logger.Logger
	metrics   *metrics.Metrics
}

// NewExecutor creates an Executor. m may be nil.
func NewExecutor(generator Generator, log logger.Logger, m *metrics.Metrics) *Executor {
	return &Executor{generator: generator, logger: log, metrics: m}
}

// Execute runs a single inference call with no retry.
func (e *Executor) Execute(ctx context.Context, req MessageRequest) MessageResponse {
	log := logger.GetLoggerFromContext(ctx, e.logger)
	if req.CorrelationID != "" {
		log = e.logger.WithCorrelationID(req.CorrelationID)
	}

	start := time.Now()
	text, err := e.generator.Generate(ctx, req.Prompt)
	elapsed := time.Since(start)

	var resp MessageResponse
	switch {
	case err == nil:
		resp = MessageResponse{Text: text, Outcome: OutcomeOK}
	case errors.Is(err, bridge.ErrMissingResponse):
		log.Warn("Inference reply had no response field",
			logger.DurationField("duration", elapsed),
		)
		resp = MessageResponse{Text: NoResponseReply, Outcome: OutcomeNoResponse, Err: err}
	default:
		log.Error("Error calling inference endpoint",
			logger.ErrorField(err),
			logger.DurationField("duration", elapsed),
		)
		resp = MessageResponse{Text: FallbackReply, Outcome: OutcomeFallback, Err: err}
	}

	e.metrics.ObserveInference(string(resp.Outcome), elapsed)
	return resp
}
