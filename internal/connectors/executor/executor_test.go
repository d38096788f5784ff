package executor

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/lewisedginton/mesh_llm_relay/internal/connectors/bridge"
	"github.com/lewisedginton/mesh_llm_relay/pkg/logger"
	"github.com/lewisedginton/mesh_llm_relay/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func TestExecute(t *testing.T) {
	transportErr := errors.New("dial tcp 10.0.0.2:11434: connect: connection refused")

	testCases := []struct {
		name        string
		reply       string
		err         error
		wantText    string
		wantOutcome Outcome
		wantLog     string
	}{
		{name: "reply passed through", reply: "Hello", wantText: "Hello", wantOutcome: OutcomeOK},
		{name: "empty reply passed through", reply: "", wantText: "", wantOutcome: OutcomeOK},
		{name: "missing field", err: bridge.ErrMissingResponse, wantText: NoResponseReply, wantOutcome: OutcomeNoResponse, wantLog: "no response field"},
		{name: "transport error", err: transportErr, wantText: FallbackReply, wantOutcome: OutcomeFallback, wantLog: "connection refused"},
		{name: "status error", err: &bridge.StatusError{StatusCode: 500}, wantText: FallbackReply, wantOutcome: OutcomeFallback, wantLog: "status 500"},
		{name: "deadline", err: context.DeadlineExceeded, wantText: FallbackReply, wantOutcome: OutcomeFallback},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &mockGenerator{}
			gen.On("Generate", mock.Anything, "what is lora?").Return(tc.reply, tc.err).Once()

			var buf bytes.Buffer
			log := logger.NewLogger(logger.Config{Level: logger.DebugLevel, Format: "json", Output: &buf})
			m := metrics.NewMetrics(false)

			resp := NewExecutor(gen, log, m).Execute(context.Background(), MessageRequest{
				CorrelationID: "c-1",
				Sender:        "!00001234",
				Prompt:        "what is lora?",
			})

			assert.Equal(t, tc.wantText, resp.Text)
			assert.Equal(t, tc.wantOutcome, resp.Outcome)
			assert.Equal(t, tc.err, resp.Err)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.InferenceRequests.WithLabelValues(string(tc.wantOutcome))))
			if tc.wantLog != "" {
				assert.Contains(t, buf.String(), tc.wantLog)
				assert.Contains(t, buf.String(), `"correlation_id":"c-1"`)
			}
			gen.AssertExpectations(t)
		})
	}
}

func TestExecuteWithoutMetrics(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, "hi").Return("", errors.New("boom"))

	resp := NewExecutor(gen, logger.NewNopLogger(), nil).Execute(context.Background(), MessageRequest{Prompt: "hi"})
	assert.Equal(t, FallbackReply, resp.Text)
}
