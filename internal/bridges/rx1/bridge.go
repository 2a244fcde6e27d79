package rx1

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/rx1-bridge/internal/audit"
	"github.com/nerrad567/rx1-bridge/internal/host"
	"github.com/nerrad567/rx1-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/rx1-bridge/internal/rx1/command"
	"github.com/nerrad567/rx1-bridge/internal/rx1/condition"
	"github.com/nerrad567/rx1-bridge/internal/rx1/fields"
	"github.com/nerrad567/rx1-bridge/internal/rx1/snapshot"
)

// Bridge operation constants.
const (
	// minTopicParts is rx1bridge/{category}/{bridge}/{key}.
	minTopicParts = 4

	// commandTimeout bounds one command. Bulk start/stop pauses between
	// services, so this is generous.
	commandTimeout = 30 * time.Second
)

var topics = mqtt.Topics{}

// Logger is the structured logger the bridge writes to.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Executor runs decoded commands. *command.Dispatcher satisfies it.
type Executor interface {
	Execute(ctx context.Context, cmd command.Command) (command.Result, error)
}

// Host is the read side of the variable registry. *host.Registry
// satisfies it.
type Host interface {
	Values() fields.Values
	Definitions() []fields.Definition
	Status() host.Status
}

// AuditRecorder records executed commands. *audit.Recorder satisfies it.
type AuditRecorder interface {
	Record(entry *audit.Entry)
}

// Options holds configuration for creating a bridge.
type Options struct {
	// BridgeID is the {bridge} topic segment. Defaults to "rx1".
	BridgeID string

	// Version is reported in health messages.
	Version string

	// HealthInterval defaults to 30 seconds.
	HealthInterval time.Duration

	MQTTClient MQTTClient
	Executor   Executor
	Host       Host

	// Reader answers evaluate_condition and get_services. Required.
	Reader snapshot.Reader

	// Audit and Logger are optional.
	Audit  AuditRecorder
	Logger Logger
}

// Bridge connects the MQTT bus to the command dispatcher and publishes
// host events.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	id       string
	mqtt     MQTTClient
	executor Executor
	host     Host
	reader   snapshot.Reader
	audit    AuditRecorder
	health   *HealthReporter

	commandsReceived   atomic.Uint64
	commandsFailed     atomic.Uint64
	variablesPublished atomic.Uint64

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a new bridge instance. Call Start to begin operation.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, ErrMQTTRequired
	}
	if opts.Executor == nil {
		return nil, ErrExecutorRequired
	}
	if opts.Host == nil || opts.Reader == nil {
		return nil, ErrHostRequired
	}
	if opts.BridgeID == "" {
		opts.BridgeID = "rx1"
	}

	ctx, ctxCancel := context.WithCancel(context.Background())
	b := &Bridge{
		id:        opts.BridgeID,
		mqtt:      opts.MQTTClient,
		executor:  opts.Executor,
		host:      opts.Host,
		reader:    opts.Reader,
		audit:     opts.Audit,
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Device:    opts.Host,
		Stats:     b.Statistics,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}
	return b, nil
}

// ID returns the bridge id used in topics.
func (b *Bridge) ID() string {
	return b.id
}

// Start subscribes to command and request topics, publishes the current
// device status and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := topics.AllCommands(b.id)
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := topics.AllRequests(b.id)
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	b.publishStatus(b.host.Status())

	b.health.Start(ctx)
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish healthy status", err)
	}

	b.logInfo("bridge started", "bridge_id", b.id)
	return nil
}

// Stop cancels in-flight commands, waits for them and publishes
// "stopping". Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		b.wg.Wait()
		b.health.Stop()
		b.logInfo("bridge stopped")
	})
}

// Statistics returns the bridge counters.
func (b *Bridge) Statistics() BridgeStatistics {
	return BridgeStatistics{
		CommandsReceived:   b.commandsReceived.Load(),
		CommandsFailed:     b.commandsFailed.Load(),
		VariablesPublished: b.variablesPublished.Load(),
	}
}

func (b *Bridge) stopped() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// handleMQTTMessage routes an inbound message by its category segment.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		return fmt.Errorf("invalid topic format: %s", topic)
	}
	if b.stopped() {
		return nil
	}

	key := parts[len(parts)-1]
	switch parts[1] {
	case "command":
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.handleCommand(key, payload)
		}()
	case "request":
		b.handleRequest(key, payload)
	default:
		return fmt.Errorf("unknown message type: %s", parts[1])
	}
	return nil
}

// handleCommand decodes and runs one command, then publishes its ack.
func (b *Bridge) handleCommand(kind string, payload []byte) {
	b.commandsReceived.Add(1)

	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.failCommand(msg, kind, ErrCodeInvalidPayload, err)
		return
	}

	b.logInfo("received command",
		"command_id", msg.ID,
		"kind", kind,
		"source", msg.Source)

	cmd, err := command.Decode(kind, msg.Options)
	if err != nil {
		b.failCommand(msg, kind, ErrorCode(err), err)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	result, err := b.executor.Execute(ctx, cmd)
	b.recordAudit(cmd, msg.Options, err)
	if err != nil {
		b.failCommand(msg, kind, ErrorCode(err), err)
		return
	}
	b.publishAck(kind, NewAckMessage(msg, kind, result))
}

func (b *Bridge) failCommand(msg CommandMessage, kind, code string, err error) {
	b.commandsFailed.Add(1)
	b.logError("command failed", fmt.Errorf("kind=%s code=%s: %w", kind, code, err))
	b.publishAck(kind, NewAckError(msg, kind, code, err.Error()))
}

func (b *Bridge) publishAck(kind string, ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(topics.Ack(b.id, kind), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

func (b *Bridge) recordAudit(cmd command.Command, options json.RawMessage, err error) {
	if b.audit == nil {
		return
	}
	ref := ""
	if r, ok := command.ServiceOf(cmd); ok {
		ref = r.String()
	}
	b.audit.Record(audit.CommandEntry(string(cmd.Kind()), ref, audit.SourceMQTT, options, err))
}

// handleRequest answers one request on the response topic.
func (b *Bridge) handleRequest(requestID string, payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		b.publishResponse(requestID, NewErrorResponse(requestID, ErrCodeInvalidPayload, err.Error()))
		return
	}
	if req.RequestID == "" {
		req.RequestID = requestID
	}

	b.logDebug("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	var resp ResponseMessage
	switch req.Action {
	case ActionEvaluateCondition:
		resp = b.evaluateCondition(req)
	case ActionGetVariables:
		resp = b.success(req, map[string]any{"variables": b.host.Values()})
	case ActionGetDefinitions:
		resp = b.success(req, map[string]any{"definitions": b.host.Definitions()})
	case ActionGetServices:
		resp = b.success(req, map[string]any{
			"services":   b.reader.Services(),
			"connection": b.reader.Connection(),
		})
	default:
		resp = NewErrorResponse(req.RequestID, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown action: %s", req.Action))
	}
	b.publishResponse(requestID, resp)
}

func (b *Bridge) evaluateCondition(req RequestMessage) ResponseMessage {
	if req.Condition == nil {
		return NewErrorResponse(req.RequestID, ErrCodeInvalidParameters, "condition is required")
	}
	cond, err := condition.Decode(req.Condition.Kind, req.Condition.Options)
	if err != nil {
		return NewErrorResponse(req.RequestID, ErrorCode(err), err.Error())
	}
	return b.success(req, map[string]any{
		"kind":   cond.Kind(),
		"result": condition.Evaluate(b.reader, cond),
	})
}

func (b *Bridge) success(req RequestMessage, data map[string]any) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

func (b *Bridge) publishResponse(topicKey string, resp ResponseMessage) {
	payload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return
	}
	if err := b.mqtt.Publish(topics.Response(b.id, topicKey), payload, 1, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

// HandleEvent publishes host changes. It implements host.Listener.
func (b *Bridge) HandleEvent(ev host.Event) {
	if b.stopped() {
		return
	}
	switch ev.Type {
	case host.EventVariablesChanged:
		now := time.Now().UTC()
		for id, v := range ev.Values {
			b.publishRetained(topics.Variable(b.id, id), VariableMessage{Field: id, Value: v, Timestamp: now})
			b.variablesPublished.Add(1)
		}
	case host.EventFeedbacksChanged:
		now := time.Now().UTC()
		for id, result := range ev.Feedbacks {
			b.publishRetained(topics.Feedback(b.id, id), FeedbackMessage{ID: id, Result: result, Timestamp: now})
		}
	case host.EventConnectionChanged:
		b.publishStatus(ev.Status)
		if err := b.health.PublishNow(); err != nil {
			b.logError("failed to publish health", err)
		}
	}
}

func (b *Bridge) publishStatus(st host.Status) {
	b.publishRetained(topics.Status(b.id), StatusMessage{
		State:     st.State,
		Message:   st.Message,
		Timestamp: time.Now().UTC(),
	})
}

func (b *Bridge) publishRetained(topic string, msg any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal message", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, 1, true); err != nil {
		b.logError("failed to publish", err)
	}
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
