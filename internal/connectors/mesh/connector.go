// Package mesh relays triggered Meshtastic text messages to the inference
// executor and sends the sanitized reply back to the sender.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/lewisedginton/mesh_llm_relay/internal/connectors/executor"
	"github.com/lewisedginton/mesh_llm_relay/internal/meshtastic"
	"github.com/lewisedginton/mesh_llm_relay/pkg/logger"
	"github.com/lewisedginton/mesh_llm_relay/pkg/metrics"
	"github.com/lewisedginton/mesh_llm_relay/pkg/prefixed_uuid"
)

const (
	DefaultTriggerToken   = "@ai"
	DefaultMaxReplyLength = 200

	messageIDPrefix = "msg"
)

// ErrNotStarted is reported by Ready before Start has subscribed the connector.
var ErrNotStarted = errors.New("mesh connector not started")

// Sender delivers a text message to a node.
type Sender interface {
	SendText(ctx context.Context, text string, dest meshtastic.NodeNum) error
}

// Radio is the part of meshtastic.Interface the connector depends on.
type Radio interface {
	Sender
	Subscribe(h meshtastic.Handler)
	Done() <-chan struct{}
	Err() error
}

// Inferrer turns a prompt into reply text.
type Inferrer interface {
	Execute(ctx context.Context, req executor.MessageRequest) executor.MessageResponse
}

// Config holds configuration for the mesh connector
type Config struct {
	TriggerToken   string // case-insensitive message prefix, "@ai" by default
	MaxReplyLength int    // reply cut-off in characters, 200 by default
}

// Connector represents the Meshtastic relay connector
type Connector struct {
	config   Config
	radio    Radio
	executor Inferrer
	logger   logger.Logger
	metrics  *metrics.Metrics

	// handleMu serializes HandleMessage. Ready never takes it.
	handleMu sync.Mutex
	ctx      atomic.Pointer[context.Context]
	started  atomic.Bool
}

// NewConnector creates a new mesh connector. m may be nil.
func NewConnector(config Config, radio Radio, exec Inferrer, log logger.Logger, m *metrics.Metrics) (*Connector, error) {
	if radio == nil {
		return nil, fmt.Errorf("radio is required")
	}
	if exec == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if config.TriggerToken == "" {
		config.TriggerToken = DefaultTriggerToken
	}
	if config.MaxReplyLength <= 0 {
		config.MaxReplyLength = DefaultMaxReplyLength
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	c := &Connector{
		config:   config,
		radio:    radio,
		executor: exec,
		logger:   log.WithFields(logger.StringField("component", "mesh_connector")),
		metrics:  m,
	}
	bg := context.Background()
	c.ctx.Store(&bg)
	return c, nil
}

// Start subscribes to the radio and blocks until ctx is cancelled, returning
// nil, or the radio link drops, returning the link error.
func (c *Connector) Start(ctx context.Context) error {
	c.ctx.Store(&ctx)
	c.radio.Subscribe(c)
	c.started.Store(true)
	c.logger.Info("Listening for mesh messages",
		logger.StringField("trigger_token", c.config.TriggerToken),
	)

	select {
	case <-ctx.Done():
		return nil
	case <-c.radio.Done():
		if err := c.radio.Err(); err != nil {
			return err
		}
		return meshtastic.ErrClosed
	}
}

// Ready returns nil once the connector is subscribed to the radio.
func (c *Connector) Ready() error {
	if !c.started.Load() {
		return ErrNotStarted
	}
	return nil
}

// OnMessage implements meshtastic.Handler.
func (c *Connector) OnMessage(msg meshtastic.InboundMessage) {
	c.HandleMessage(*c.ctx.Load(), msg)
}

// HandleMessage runs one message through filter, inference and dispatch.
// Calls are serialized and always return normally.
func (c *Connector) HandleMessage(ctx context.Context, msg meshtastic.InboundMessage) {
	c.handleMu.Lock()
	defer c.handleMu.Unlock()

	correlationID := logger.GetCorrelationIDFromContext(ctx)
	if correlationID == "" {
		correlationID = prefixed_uuid.New(messageIDPrefix).String()
		ctx = logger.WithCorrelationIDContext(ctx, correlationID)
	}
	log := c.logger.WithCorrelationID(correlationID).WithFields(
		logger.StringField("from", msg.From.String()),
		logger.Field("packet_id", msg.PacketID),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered from panic in message handler",
				logger.StringField("panic", fmt.Sprint(r)),
				logger.StringField("stack", string(debug.Stack())),
			)
		}
	}()

	c.metrics.MessageReceived()

	prompt, reason := ExtractPrompt(msg, c.config.TriggerToken)
	switch reason {
	case metrics.ReasonNoText:
		log.Debug("Ignoring packet without text payload", logger.Field("portnum", msg.PortNum))
		c.metrics.MessageIgnored(reason)
		return
	case metrics.ReasonNoTrigger:
		log.Info("Ignoring message without trigger token", logger.StringField("text", msg.Text))
		c.metrics.MessageIgnored(reason)
		return
	case metrics.ReasonEmptyPrompt:
		log.Warn("Ignoring empty prompt", logger.StringField("text", msg.Text))
		c.metrics.MessageIgnored(reason)
		return
	}

	log.Info("Relaying prompt", logger.StringField("prompt", prompt))

	resp := c.executor.Execute(ctx, executor.MessageRequest{
		CorrelationID: correlationID,
		Sender:        msg.From.String(),
		Prompt:        prompt,
	})
	reply := Sanitize(resp.Text, c.config.MaxReplyLength)

	log.Info("Inference finished",
		logger.StringField("outcome", string(resp.Outcome)),
		logger.IntField("reply_length", len(reply)),
	)

	c.dispatch(ctx, log, reply, msg.From)
}

func (c *Connector) dispatch(ctx context.Context, log logger.Logger, reply string, dest meshtastic.NodeNum) {
	if !dest.Valid() {
		log.Warn("Cannot reply to sender: invalid node number")
		c.metrics.ReplyResult(metrics.ReplyInvalidSender)
		return
	}

	if err := c.radio.SendText(ctx, reply, dest); err != nil {
		log.Error("Failed to send reply", logger.ErrorField(err))
		c.metrics.ReplyResult(metrics.ReplyFailed)
		return
	}

	log.Info("Reply sent", logger.StringField("reply", reply))
	c.metrics.ReplyResult(metrics.ReplySent)
}
