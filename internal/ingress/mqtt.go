package ingress

import (
	"errors"
	"sync"

	"github.com/nerrad567/playsem-core/internal/effect"
	"github.com/nerrad567/playsem-core/internal/infrastructure/mqtt"
)

// Logger defines the logging interface used by adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Ingester accepts raw JSON effects. *engine.Engine implements it.
type Ingester interface {
	IngestJSON(data []byte, meta effect.SourceMeta) (string, error)
}

// MQTTClient is the part of *mqtt.Client the adapter uses.
type MQTTClient interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	PublishJSON(topic string, v any) error
}

// ProtocolMQTT is the SourceMeta protocol for MQTT ingress.
const ProtocolMQTT = "mqtt"

// MQTTOptions configures an MQTTAdapter.
type MQTTOptions struct {
	Client     MQTTClient // required
	Ingester   Ingester   // required
	Controller Controller // optional; control topic is ignored without it

	// OnIngest is called after every ingest attempt, err nil on success.
	OnIngest func(protocol string, err error)

	Logger Logger
}

// MQTTAdapter feeds effects published on playsem/effects/{source} into the
// engine and applies commands from playsem/control.
type MQTTAdapter struct {
	client     MQTTClient
	ingester   Ingester
	controller Controller
	onIngest   func(string, error)
	topics     mqtt.Topics
	logger     Logger

	mu         sync.Mutex
	subscribed []string
}

// NewMQTTAdapter creates an adapter. Call Start to subscribe.
func NewMQTTAdapter(opts MQTTOptions) (*MQTTAdapter, error) {
	if opts.Client == nil {
		return nil, errors.New("ingress: mqtt client is required")
	}
	if opts.Ingester == nil {
		return nil, errors.New("ingress: ingester is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTTAdapter{
		client:     opts.Client,
		ingester:   opts.Ingester,
		controller: opts.Controller,
		onIngest:   opts.OnIngest,
		logger:     logger,
	}, nil
}

// Start subscribes to the ingress and control topics.
func (a *MQTTAdapter) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	effects := a.topics.AllEffectIngress()
	if err := a.client.Subscribe(effects, 1, a.handleEffect); err != nil {
		return err
	}
	a.subscribed = append(a.subscribed, effects)
	a.logger.Info("subscribed to effect ingress", "topic", effects)

	if a.controller != nil {
		control := a.topics.Control()
		if err := a.client.Subscribe(control, 1, a.handleControl); err != nil {
			return err
		}
		a.subscribed = append(a.subscribed, control)
		a.logger.Info("subscribed to timeline control", "topic", control)
	}
	return nil
}

// Stop removes the adapter's subscriptions.
func (a *MQTTAdapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, topic := range a.subscribed {
		if err := a.client.Unsubscribe(topic); err != nil {
			a.logger.Warn("unsubscribe failed", "topic", topic, "error", err)
		}
	}
	a.subscribed = nil
}

// handleEffect never returns an error for a bad payload: the producer is
// told through the rejected topic instead.
func (a *MQTTAdapter) handleEffect(topic string, payload []byte) error {
	source, ok := mqtt.SourceFromIngressTopic(topic)
	if !ok {
		return nil
	}
	meta := effect.SourceMeta{Protocol: ProtocolMQTT, Origin: source}

	id, err := a.ingester.IngestJSON(payload, meta)
	if a.onIngest != nil {
		a.onIngest(ProtocolMQTT, err)
	}
	if err == nil {
		a.logger.Debug("effect accepted", "source", source, "effect_id", id)
		return nil
	}

	rej := NewRejection(err, meta, payload)
	rej.Source = source
	a.logger.Debug("effect rejected", "source", source, "reason", rej.Reason, "error", err)
	if perr := a.client.PublishJSON(a.topics.EffectsRejected(), rej); perr != nil {
		a.logger.Warn("failed to publish rejection", "source", source, "error", perr)
	}
	return nil
}

func (a *MQTTAdapter) handleControl(_ string, payload []byte) error {
	cmd, err := ParseCommand(payload)
	if err == nil {
		err = Apply(a.controller, cmd)
	}
	if err != nil {
		a.logger.Warn("control command failed", "action", cmd.Action, "error", err)
		return nil
	}
	a.logger.Info("control command applied", "action", cmd.Action)
	return nil
}
