package stream

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/kwv/steadyframe/stabilizer"
	"github.com/sirupsen/logrus"
)

// StreamMetrics is the payload published for one stream
type StreamMetrics struct {
	StreamID  string             `json:"streamId"`
	Metrics   stabilizer.Metrics `json:"metrics"`
	Timestamp int64              `json:"timestamp"`
}

// Publisher publishes per-stream metrics to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	interval      time.Duration
	latest        map[string]*StreamMetrics
	lastSent      map[string]time.Time
	mu            sync.RWMutex
	log           logrus.FieldLogger
}

// NewPublisher creates a metrics publisher. If client is nil, publishing
// is disabled but the latest metrics are still tracked.
func NewPublisher(client mqtt.Client, prefix string, log logrus.FieldLogger) *Publisher {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,    // metrics are superseded by the next frame
		retain:        true, // late subscribers get the latest state
		interval:      time.Second,
		latest:        make(map[string]*StreamMetrics),
		lastSent:      make(map[string]time.Time),
		log:           log,
	}
}

// MetricsTopic returns <prefix>/<stream>/metrics
func (p *Publisher) MetricsTopic(streamID string) string {
	return fmt.Sprintf("%s/%s/metrics", p.publishPrefix, streamID)
}

// PublishMetrics records m and publishes it to the stream topic and the
// combined streams topic
func (p *Publisher) PublishMetrics(streamID string, m stabilizer.Metrics) error {
	sm := &StreamMetrics{StreamID: streamID, Metrics: m, Timestamp: time.Now().Unix()}

	p.mu.Lock()
	p.latest[streamID] = sm
	p.mu.Unlock()

	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	if err := p.publishIndividual(sm); err != nil {
		return err
	}
	return p.publishCombined()
}

func (p *Publisher) publish(topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling metrics: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

func (p *Publisher) publishIndividual(sm *StreamMetrics) error {
	return p.publish(p.MetricsTopic(sm.StreamID), sm)
}

// publishCombined publishes a summary of every known stream
func (p *Publisher) publishCombined() error {
	all := p.GetAllMetrics()
	if len(all) == 0 {
		return nil
	}

	streams := make([]*StreamMetrics, 0, len(all))
	for _, sm := range all {
		streams = append(streams, sm)
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i].StreamID < streams[j].StreamID })

	message := map[string]interface{}{
		"streams":   streams,
		"timestamp": time.Now().Unix(),
	}
	return p.publish(fmt.Sprintf("%s/streams", p.publishPrefix), message)
}

// Listener returns a MetricsListener that publishes each stream at most
// once per interval, plus immediately on a status change
func (p *Publisher) Listener() MetricsListener {
	return func(streamID string, m stabilizer.Metrics) {
		now := time.Now()
		p.mu.Lock()
		prev, seen := p.latest[streamID]
		due := !seen || prev.Metrics.Status != m.Status || now.Sub(p.lastSent[streamID]) >= p.interval
		if due {
			p.lastSent[streamID] = now
		} else {
			p.latest[streamID] = &StreamMetrics{StreamID: streamID, Metrics: m, Timestamp: now.Unix()}
		}
		p.mu.Unlock()

		if !due {
			return
		}
		if err := p.PublishMetrics(streamID, m); err != nil {
			p.log.WithError(err).WithField("stream", streamID).Debug("Metrics not published")
		}
	}
}

// GetMetrics returns the last metrics seen for a stream
func (p *Publisher) GetMetrics(streamID string) (*StreamMetrics, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sm, ok := p.latest[streamID]
	if !ok {
		return nil, false
	}
	c := *sm
	return &c, true
}

// GetAllMetrics returns a copy of the latest metrics of every stream
func (p *Publisher) GetAllMetrics() map[string]*StreamMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()

	all := make(map[string]*StreamMetrics, len(p.latest))
	for id, sm := range p.latest {
		c := *sm
		all[id] = &c
	}
	return all
}

// ClearStream forgets a removed stream
func (p *Publisher) ClearStream(streamID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.latest, streamID)
	delete(p.lastSent, streamID)
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}

// SetInterval sets the minimum time between publishes of one stream from
// Listener
func (p *Publisher) SetInterval(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interval = d
}
