// Package mqtt republishes committed readings to an MQTT broker for
// Home Assistant style dashboards. Publishing runs on its own goroutine
// behind a bounded queue so a slow or absent broker can never stall the
// ingestion path.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/afroash/hub-server/internal/config"
	"github.com/afroash/hub-server/internal/models"
)

const (
	clientID       = "hub-server"
	publishTimeout = 5 * time.Second
)

// client is the slice of the paho API the publisher needs. Narrowed for
// testability; paho's Client satisfies it.
type client interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Publisher emits power and energy state per sensor, plus one-time Home
// Assistant discovery metadata, on sensor-labeled topics.
type Publisher struct {
	client   client
	cfg      config.MQTTSettings
	logger   zerolog.Logger
	queue    chan *models.ReadingRecord
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// discoverySent tracks labels whose discovery config has been
	// published; only the worker goroutine touches it.
	discoverySent map[string]bool

	// Stats
	mu             sync.RWMutex
	totalPublished int64
	totalDropped   int64
	totalErrors    int64
}

// PublisherStats contains statistics about the publisher
type PublisherStats struct {
	TotalPublished int64 `json:"total_published"`
	TotalDropped   int64 `json:"total_dropped"`
	TotalErrors    int64 `json:"total_errors"`
	QueueLength    int   `json:"queue_length"`
}

// New creates a publisher connected to the configured broker. The initial
// connection is retried in the background; records arriving while the broker
// is unreachable are dropped with a warning, never queued against ingestion.
func New(cfg config.MQTTSettings, logger zerolog.Logger) *Publisher {
	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port)).
		SetClientID(clientID).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(2 * time.Minute)
	if cfg.User != "" {
		opts.SetUsername(cfg.User)
		opts.SetPassword(cfg.Pass)
	}
	opts.OnConnect = func(paho.Client) {
		logger.Info().Str("broker", cfg.Broker).Int("port", cfg.Port).Msg("MQTT connected")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		logger.Warn().Err(err).Msg("MQTT connection lost, will auto-reconnect")
	}

	return newWithClient(paho.NewClient(opts), cfg, logger)
}

// newWithClient wires a publisher around any client implementation.
func newWithClient(c client, cfg config.MQTTSettings, logger zerolog.Logger) *Publisher {
	p := &Publisher{
		client:        c,
		cfg:           cfg,
		logger:        logger,
		queue:         make(chan *models.ReadingRecord, cfg.QueueSize),
		stopChan:      make(chan struct{}),
		discoverySent: make(map[string]bool),
	}

	c.Connect()

	p.wg.Add(1)
	go p.publishLoop()

	logger.Info().
		Str("base_topic", cfg.BaseTopic).
		Bool("discovery", cfg.Discovery).
		Int("queue_size", cfg.QueueSize).
		Msg("MQTT publisher started")

	return p
}

// PublishRecord queues a committed record for publishing. Never blocks; a
// full queue drops the record with a warning.
func (p *Publisher) PublishRecord(record *models.ReadingRecord) {
	select {
	case p.queue <- record:
	default:
		p.mu.Lock()
		p.totalDropped++
		p.mu.Unlock()
		p.logger.Warn().Str("label", record.Label).Msg("MQTT queue full, dropping record")
	}
}

// PublishStartupDiscovery replays discovery metadata for every label already
// known to the store, so sensors reappear in Home Assistant after a restart
// without waiting for their next packet.
func (p *Publisher) PublishStartupDiscovery(labels []string) {
	if !p.cfg.Discovery {
		return
	}
	p.logger.Debug().Int("count", len(labels)).Msg("Publishing startup discovery for stored sensors")
	for _, label := range labels {
		sid, ok := sensorIDFromLabel(label)
		if !ok {
			continue
		}
		p.publishDiscovery(label, sid)
	}
}

// publishLoop is the background goroutine draining the queue.
func (p *Publisher) publishLoop() {
	defer p.wg.Done()

	for {
		select {
		case record := <-p.queue:
			p.publish(record)

		case <-p.stopChan:
			// Drain anything already queued before disconnecting
			for {
				select {
				case record := <-p.queue:
					p.publish(record)
				default:
					p.logger.Info().Msg("MQTT publisher stopped")
					return
				}
			}
		}
	}
}

// publish emits power and energy state for one record, preceded by the
// one-time discovery config when this label has not been announced yet.
func (p *Publisher) publish(record *models.ReadingRecord) {
	if !p.client.IsConnected() {
		p.mu.Lock()
		p.totalDropped++
		p.mu.Unlock()
		p.logger.Warn().Str("label", record.Label).Msg("MQTT not connected, skipping publish")
		return
	}

	if p.cfg.Discovery && !p.discoverySent[record.Label] {
		p.publishDiscovery(record.Label, record.SensorID)
	}

	p.send(powerTopic(p.cfg.BaseTopic, record.Label), statePayload{Value: record.PowerKW()}, false)
	p.send(energyTopic(p.cfg.BaseTopic, record.Label), statePayload{Value: record.CumulativeEnergyKWh}, false)
}

// publishDiscovery emits the retained Home Assistant config messages for a
// sensor's power and energy series.
func (p *Publisher) publishDiscovery(label, sensorID string) {
	power := powerDiscoveryPayload(label, sensorID, powerTopic(p.cfg.BaseTopic, label))
	energy := energyDiscoveryPayload(label, sensorID, energyTopic(p.cfg.BaseTopic, label))

	p.send(discoveryTopic(p.cfg.DiscoveryPrefix, label), power, true)
	p.send(discoveryTopic(p.cfg.DiscoveryPrefix, label+"_energy"), energy, true)

	p.discoverySent[label] = true
	p.logger.Debug().Str("label", label).Msg("Published discovery config")
}

// send marshals and publishes one payload with a bounded wait.
func (p *Publisher) send(topic string, payload interface{}, retain bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("Failed to marshal payload")
		return
	}

	token := p.client.Publish(topic, 0, retain, data)
	if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
		p.mu.Lock()
		p.totalErrors++
		p.mu.Unlock()
		p.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		return
	}

	p.mu.Lock()
	p.totalPublished++
	p.mu.Unlock()
}

// Stop drains the queue and disconnects from the broker.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		p.wg.Wait()
		p.client.Disconnect(250)
	})
}

// Stats returns current publisher statistics
func (p *Publisher) Stats() PublisherStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return PublisherStats{
		TotalPublished: p.totalPublished,
		TotalDropped:   p.totalDropped,
		TotalErrors:    p.totalErrors,
		QueueLength:    len(p.queue),
	}
}

// sensorIDFromLabel recovers the sensor id from a stored label of the form
// efergy_<hub>_<sid>.
func sensorIDFromLabel(label string) (string, bool) {
	parts := strings.Split(label, "_")
	if len(parts) < 3 {
		return "", false
	}
	return parts[2], true
}
