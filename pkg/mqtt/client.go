// Package mqtt publishes bridge state to an MQTT broker with Home Assistant
// discovery and turns command topics into setting writes.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/raterudder/solarkbridge/pkg/log"
	"github.com/raterudder/solarkbridge/pkg/solark"
	"github.com/raterudder/solarkbridge/pkg/types"
)

const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
	PayloadOn      = "ON"
	PayloadOff     = "OFF"

	defaultQos     = 1
	publishTimeout = 10 * time.Second
)

var errNotConnected = errors.New("mqtt client is not connected")

// Bridge is the part of *bridge.Bridge the publisher needs.
type Bridge interface {
	PlantID() string
	WriteEntity(ctx context.Context, id, state string) error
}

// Client is the subset of paho.Client used here.
type Client interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

type Config struct {
	Broker          string
	ClientID        string
	Username        string
	Password        string
	BaseTopic       string
	DiscoveryPrefix string
}

// Publisher implements bridge.Publisher on top of an MQTT connection.
type Publisher struct {
	cfg       Config
	bridge    Bridge
	client    Client
	entities  []types.SettingEntity
	byID      map[string]types.SettingEntity
	commandRE *regexp.Regexp

	mu  sync.Mutex
	ctx context.Context
}

// New builds a Publisher. The paho client is created from cfg unless one is
// set afterwards with SetClient.
func New(cfg Config, b Bridge) *Publisher {
	p := &Publisher{}
	p.init(cfg, b)
	return p
}

func (p *Publisher) init(cfg Config, b Bridge) {
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "solark"
	}
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "solarkbridge"
	}
	p.cfg = cfg
	p.bridge = b
	p.ctx = context.Background()
	p.entities = solark.SettingEntities()
	p.byID = make(map[string]types.SettingEntity, len(p.entities))
	for _, e := range p.entities {
		p.byID[e.ID()] = e
	}
	p.commandRE = regexp.MustCompile(fmt.Sprintf(`^%s/(number|switch|select|text)/([a-zA-Z0-9_]+)/set$`, regexp.QuoteMeta(cfg.BaseTopic)))
}

// SetClient replaces the underlying MQTT client.
func (p *Publisher) SetClient(c Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = c
}

func (p *Publisher) getClient() Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

// Options builds the paho client options with a retained offline will on the
// bridge state topic.
func (p *Publisher) Options() *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(p.cfg.Broker)
	opts.SetClientID(p.cfg.ClientID)
	opts.SetUsername(p.cfg.Username)
	opts.SetPassword(p.cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetOrderMatters(false)

	opts.WillEnabled = true
	opts.WillPayload = []byte(PayloadOffline)
	opts.WillRetained = true
	opts.WillTopic = p.BridgeStateTopic()
	opts.WillQos = defaultQos

	opts.OnConnect = func(paho.Client) {
		p.onConnect()
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		ctx := p.context()
		log.Ctx(ctx).WarnContext(ctx, "mqtt connection lost", slog.Any("error", err))
	}
	return opts
}

func (p *Publisher) context() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctx
}

func (p *Publisher) BridgeStateTopic() string {
	return p.cfg.BaseTopic + "/bridge/state"
}

func (p *Publisher) SensorStateTopic(key string) string {
	return fmt.Sprintf("%s/sensor/%s/state", p.cfg.BaseTopic, key)
}

func (p *Publisher) EntityStateTopic(e types.SettingEntity) string {
	return fmt.Sprintf("%s/%s/%s/state", p.cfg.BaseTopic, e.Kind, e.ID())
}

func (p *Publisher) EntityCommandTopic(e types.SettingEntity) string {
	return fmt.Sprintf("%s/%s/%s/set", p.cfg.BaseTopic, e.Kind, e.ID())
}

func (p *Publisher) commandSubscription() string {
	return p.cfg.BaseTopic + "/+/+/set"
}

// ParseCommandTopic returns the entity addressed by a command topic.
func (p *Publisher) ParseCommandTopic(topic string) (types.SettingEntity, bool) {
	m := p.commandRE.FindStringSubmatch(topic)
	if m == nil {
		return types.SettingEntity{}, false
	}
	e, ok := p.byID[m[2]]
	if !ok || string(e.Kind) != m[1] {
		return types.SettingEntity{}, false
	}
	return e, true
}

func (p *Publisher) publish(topic string, retained bool, payload any) error {
	c := p.getClient()
	if c == nil || !c.IsConnected() {
		return errNotConnected
	}
	token := c.Publish(topic, defaultQos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("error publishing to %s: %w", topic, err)
	}
	return nil
}

// onConnect runs after every (re)connect. Discovery and subscriptions are
// repeated since the broker may have been restarted.
func (p *Publisher) onConnect() {
	ctx := p.context()
	log.Ctx(ctx).InfoContext(ctx, "connected to mqtt broker", slog.String("broker", p.cfg.Broker))
	if err := p.PublishDiscovery(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "error publishing discovery", slog.Any("error", err))
	}
	if err := p.PublishAvailability(ctx, true); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "error publishing availability", slog.Any("error", err))
	}
	token := p.getClient().Subscribe(p.commandSubscription(), defaultQos, func(_ paho.Client, msg paho.Message) {
		p.handleCommand(p.context(), msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		log.Ctx(ctx).ErrorContext(ctx, "timed out subscribing to commands")
		return
	}
	if err := token.Error(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "error subscribing to commands", slog.Any("error", err))
	}
}

// PublishDiscovery sends the retained Home Assistant config for every entity.
func (p *Publisher) PublishDiscovery(ctx context.Context) error {
	var errs []error
	for _, msg := range p.discoveryMessages() {
		payload, err := json.Marshal(msg.config)
		if err != nil {
			errs = append(errs, fmt.Errorf("error encoding discovery for %s: %w", msg.topic, err))
			continue
		}
		if err := p.publish(msg.topic, true, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) handleCommand(ctx context.Context, topic string, payload []byte) {
	e, ok := p.ParseCommandTopic(topic)
	if !ok {
		log.Ctx(ctx).DebugContext(ctx, "ignoring unknown command topic", slog.String("topic", topic))
		return
	}
	state := string(payload)
	log.Ctx(ctx).InfoContext(
		ctx,
		"received command",
		slog.String("entity", e.ID()),
		slog.String("state", state),
	)
	if err := p.bridge.WriteEntity(ctx, e.ID(), state); err != nil {
		log.Ctx(ctx).ErrorContext(
			ctx,
			"error applying command",
			slog.String("entity", e.ID()),
			slog.Any("error", err),
		)
	}
}

func formatMetric(v any) string {
	switch v := v.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

// PublishMetrics sends the state of every sensor present in m.
func (p *Publisher) PublishMetrics(ctx context.Context, m types.Metrics) error {
	var errs []error
	for _, s := range types.Sensors {
		v, ok := m[s.Key]
		if !ok {
			continue
		}
		if err := p.publish(p.SensorStateTopic(s.Key), false, formatMetric(v)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishSettings sends the retained state of every setting entity known in s.
func (p *Publisher) PublishSettings(ctx context.Context, s types.SettingsSnapshot) error {
	var errs []error
	for _, e := range p.entities {
		state, ok := solark.EntityState(e, s.Settings)
		if !ok {
			continue
		}
		if err := p.publish(p.EntityStateTopic(e), true, state); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) PublishAvailability(ctx context.Context, online bool) error {
	payload := PayloadOffline
	if online {
		payload = PayloadOnline
	}
	return p.publish(p.BridgeStateTopic(), true, payload)
}

// Run connects to the broker and blocks until ctx is done, then marks the
// bridge offline and disconnects.
func (p *Publisher) Run(ctx context.Context) error {
	p.mu.Lock()
	p.ctx = ctx
	if p.client == nil {
		p.client = paho.NewClient(p.Options())
	}
	c := p.client
	p.mu.Unlock()

	token := c.Connect()
	// with ConnectRetry the token only completes once connected
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("error connecting to mqtt broker: %w", err)
		}
	case <-ctx.Done():
	}

	<-ctx.Done()
	if err := p.PublishAvailability(ctx, false); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "error publishing offline state", slog.Any("error", err))
	}
	c.Disconnect(250)
	return nil
}
