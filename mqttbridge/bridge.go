// Package mqttbridge connects the analyzer fleet to an MQTT broker: raw
// frames are consumed from a wildcard topic and every enriched frame is
// published back per asset.
package mqttbridge

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/ftahirops/gentop/collector"
	"github.com/ftahirops/gentop/engine"
	"github.com/ftahirops/gentop/model"
)

// ErrClosed is returned when publishing on a closed bridge.
var ErrClosed = errors.New("mqtt bridge closed")

const defaultQueue = 256

// Config configures a Bridge.
type Config struct {
	Broker   string // tcp://host:port, mqtt://, ssl:// or tls://
	ClientID string
	// FrameTopic is subscribed for raw frames. The "+" level names the asset.
	FrameTopic string
	// ResultTopic and EmergencyTopic are format strings taking the asset id.
	ResultTopic    string
	EmergencyTopic string
	QoS            byte
	KeepAlive      uint16
	QueueSize      int
	DefaultAsset   string
	Logger         *slog.Logger
}

func (c *Config) setDefaults() {
	if c.ClientID == "" {
		c.ClientID = "gentop"
	}
	if c.FrameTopic == "" {
		c.FrameTopic = "gentop/+/frames"
	}
	if c.ResultTopic == "" {
		c.ResultTopic = "gentop/%s/analysis"
	}
	if c.EmergencyTopic == "" {
		c.EmergencyTopic = "gentop/%s/emergency"
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = 30
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueue
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// EmergencyState is the retained latch message for one asset.
type EmergencyState struct {
	Asset     string    `json:"asset"`
	Active    bool      `json:"active"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Triggers  []string  `json:"triggers,omitempty"`
}

type outgoing struct {
	topic   string
	payload []byte
	retain  bool
}

// Bridge is an MQTT client feeding a fleet and publishing its results. It
// implements engine.Observer.
type Bridge struct {
	cfg    Config
	fleet  *engine.Fleet
	client *paho.Client
	logger *slog.Logger

	out    chan outgoing
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	seen    map[string]bool
	dropped uint64
	closed  bool
}

// Dial connects to the broker and, when fleet is non-nil, subscribes to the
// frame topic. Results are only published once the bridge is attached to a
// fleet as an observer.
func Dial(ctx context.Context, cfg Config, fleet *engine.Fleet) (*Bridge, error) {
	cfg.setDefaults()
	conn, err := dialBroker(ctx, cfg.Broker)
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		cfg:    cfg,
		fleet:  fleet,
		logger: cfg.Logger.With("component", "mqtt"),
		out:    make(chan outgoing, cfg.QueueSize),
		seen:   make(map[string]bool),
	}
	b.client = paho.NewClient(paho.ClientConfig{
		ClientID: cfg.ClientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			b.onPublish,
		},
		OnClientError: func(err error) {
			b.logger.Error("client error", "err", err)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			b.logger.Warn("server disconnect", "reason", d.ReasonCode)
		},
	})

	ca, err := b.client.Connect(ctx, &paho.Connect{
		ClientID:   cfg.ClientID,
		KeepAlive:  cfg.KeepAlive,
		CleanStart: true,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	if ca.ReasonCode != 0 {
		conn.Close()
		return nil, fmt.Errorf("mqtt connect %s: reason %d", cfg.Broker, ca.ReasonCode)
	}

	if fleet != nil {
		if _, err := b.client.Subscribe(ctx, &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{{Topic: cfg.FrameTopic, QoS: cfg.QoS}},
		}); err != nil {
			_ = b.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
			return nil, fmt.Errorf("mqtt subscribe %s: %w", cfg.FrameTopic, err)
		}
	}

	pctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.wg.Add(1)
	go b.publishLoop(pctx)

	b.logger.Info("connected", "broker", cfg.Broker, "client_id", cfg.ClientID, "frames", cfg.FrameTopic)
	return b, nil
}

func dialBroker(ctx context.Context, broker string) (net.Conn, error) {
	u, err := url.Parse(broker)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("mqtt broker %q: want scheme://host:port", broker)
	}
	var d net.Dialer
	switch u.Scheme {
	case "tcp", "mqtt":
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", u.Host, err)
		}
		return conn, nil
	case "ssl", "tls", "mqtts":
		td := tls.Dialer{NetDialer: &d, Config: &tls.Config{ServerName: u.Hostname(), MinVersion: tls.VersionTLS12}}
		conn, err := td.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", u.Host, err)
		}
		return conn, nil
	}
	return nil, fmt.Errorf("mqtt broker %q: unsupported scheme %q", broker, u.Scheme)
}

// AssetFromTopic returns the topic level matched by the "+" wildcard of
// pattern, or "" if pattern has none or topic does not match.
func AssetFromTopic(pattern, topic string) string {
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")
	if len(pp) != len(tp) {
		return ""
	}
	asset := ""
	for i, p := range pp {
		switch {
		case p == "+":
			if asset == "" {
				asset = tp[i]
			}
		case p != tp[i]:
			return ""
		}
	}
	return asset
}

// FrameTopicFor fills the "+" level of the frame topic with asset.
func FrameTopicFor(pattern, asset string) string {
	return strings.Replace(pattern, "+", asset, 1)
}

func (b *Bridge) onPublish(pr paho.PublishReceived) (bool, error) {
	if b.fleet == nil {
		return false, nil
	}
	p := pr.Packet
	asset := AssetFromTopic(b.cfg.FrameTopic, p.Topic)
	if asset == "" && p.Topic != b.cfg.FrameTopic {
		return false, nil
	}

	s, err := collector.DecodeSample(p.Payload)
	if err != nil {
		b.logger.Warn("drop frame", "topic", p.Topic, "err", err)
		return true, nil
	}
	switch {
	case asset != "":
	case s.Asset != "":
		asset = s.Asset
	default:
		asset = b.cfg.DefaultAsset
	}
	if asset == "" {
		b.logger.Warn("drop frame without asset", "topic", p.Topic)
		return true, nil
	}

	as := b.fleet.Asset(asset)
	if s.Time.IsZero() {
		as.Analyze(s.Frame())
	} else {
		as.AnalyzeAt(s.Frame(), s.Time)
	}
	return true, nil
}

// Observe implements engine.Observer. It never blocks: when the outbound
// queue is full the result is dropped.
func (b *Bridge) Observe(res engine.Result) {
	payload, err := json.Marshal(res.Frame)
	if err != nil {
		b.logger.Error("marshal result", "asset", res.Asset, "err", err)
		return
	}
	b.enqueue(outgoing{topic: fmt.Sprintf(b.cfg.ResultTopic, res.Asset), payload: payload})

	b.mu.Lock()
	first := !b.seen[res.Asset]
	b.seen[res.Asset] = true
	b.mu.Unlock()
	if !first && res.Transition == engine.TransitionNone {
		return
	}

	st := EmergencyState{
		Asset:     res.Asset,
		Active:    res.Frame.EmergencyActive,
		Seq:       res.Frame.Sequence,
		Timestamp: res.Frame.Timestamp,
		Triggers:  res.Derived.Triggers,
	}
	payload, err = json.Marshal(st)
	if err != nil {
		return
	}
	b.enqueue(outgoing{topic: fmt.Sprintf(b.cfg.EmergencyTopic, res.Asset), payload: payload, retain: true})
}

func (b *Bridge) enqueue(m outgoing) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.out <- m:
	default:
		b.dropped++
		if b.dropped == 1 || b.dropped%100 == 0 {
			b.logger.Warn("outbound queue full, dropping", "topic", m.topic, "dropped", b.dropped)
		}
	}
}

func (b *Bridge) publishLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-b.out:
			if !ok {
				return
			}
			if err := b.publish(ctx, m.topic, m.payload, m.retain); err != nil && ctx.Err() == nil {
				b.logger.Warn("publish", "topic", m.topic, "err", err)
			}
		}
	}
}

func (b *Bridge) publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := b.client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     b.cfg.QoS,
		Retain:  retain,
		Payload: payload,
	})
	return err
}

// PublishSample sends a raw sample to the asset's frame topic.
func (b *Bridge) PublishSample(ctx context.Context, s model.Sample) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if s.Asset == "" {
		s.Asset = b.cfg.DefaultAsset
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}
	return b.publish(ctx, FrameTopicFor(b.cfg.FrameTopic, s.Asset), payload, false)
}

// Dropped returns the number of results dropped on a full queue.
func (b *Bridge) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close drains pending publishes for up to a second, then disconnects.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	deadline := time.After(time.Second)
drain:
	for len(b.out) > 0 {
		select {
		case <-deadline:
			break drain
		case <-time.After(10 * time.Millisecond):
		}
	}
	b.cancel()
	b.wg.Wait()
	return b.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
}
