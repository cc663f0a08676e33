package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/process.report/internal/db"
	"github.com/banshee-data/process.report/internal/monitoring"
)

// connectTimeout bounds the initial broker connection attempt so a
// misconfigured broker does not stall station startup.
const connectTimeout = 10 * time.Second

// measurementPayload is the JSON body machines publish: one complete
// subgroup per message. RecordedAt is unix seconds; zero means "now".
type measurementPayload struct {
	CharacteristicID int64     `json:"characteristic_id"`
	Values           []float64 `json:"values"`
	RecordedAt       float64   `json:"recorded_at"`
}

// BrokerSubscriber maintains one MQTT connection for a configured broker
// and writes each valid measurement message as a sample. Malformed or
// unroutable messages are logged and dropped; a measurement feed must
// never take the station down.
type BrokerSubscriber struct {
	db     *db.DB
	broker db.Broker
	client mqtt.Client
}

// NewBrokerSubscriber creates a subscriber for the broker configuration.
// Call Start to connect and subscribe.
func NewBrokerSubscriber(database *db.DB, broker db.Broker) *BrokerSubscriber {
	return &BrokerSubscriber{db: database, broker: broker}
}

// Start connects to the broker and subscribes to its configured topic.
// The paho client reconnects automatically after transient drops.
func (s *BrokerSubscriber) Start() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.broker.URL)
	opts.SetClientID(s.broker.ClientID)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)
	if s.broker.Username != nil {
		opts.SetUsername(*s.broker.Username)
	}
	if s.broker.Password != nil {
		opts.SetPassword(*s.broker.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		monitoring.Logf("MQTT broker %q connection lost: %v", s.broker.Name, err)
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		// Resubscribe on every (re)connect so a broker restart does not
		// silently drop the subscription.
		token := client.Subscribe(s.broker.Topic, s.qos(), s.handleMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			monitoring.Logf("MQTT broker %q subscribe to %q failed: %v", s.broker.Name, s.broker.Topic, err)
			return
		}
		monitoring.Logf("MQTT broker %q subscribed to %q", s.broker.Name, s.broker.Topic)
	})

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker %q at %s: %w", s.broker.Name, s.broker.URL, err)
	}
	return nil
}

// Stop unsubscribes and disconnects, allowing in-flight messages a short
// grace period to finish.
func (s *BrokerSubscriber) Stop() {
	if s.client == nil {
		return
	}
	if s.client.IsConnected() {
		s.client.Unsubscribe(s.broker.Topic)
	}
	s.client.Disconnect(250)
}

func (s *BrokerSubscriber) qos() byte {
	if s.broker.QoS < 0 || s.broker.QoS > 2 {
		return 1
	}
	return byte(s.broker.QoS)
}

func (s *BrokerSubscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	if err := s.ingestPayload(msg.Payload()); err != nil {
		monitoring.Logf("MQTT broker %q dropped message on %q: %v", s.broker.Name, msg.Topic(), err)
	}
}

// ingestPayload validates and stores one published measurement message.
func (s *BrokerSubscriber) ingestPayload(payload []byte) error {
	var p measurementPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("failed to parse measurement payload: %w", err)
	}
	if p.CharacteristicID <= 0 {
		return fmt.Errorf("measurement payload missing characteristic_id")
	}
	if len(p.Values) == 0 {
		return fmt.Errorf("measurement payload has no values")
	}

	recordedAt := p.RecordedAt
	if recordedAt <= 0 {
		recordedAt = float64(time.Now().UnixNano()) / 1e9
	}

	sample := &db.Sample{
		CharacteristicID: p.CharacteristicID,
		RecordedAt:       recordedAt,
		Source:           "mqtt",
		Measurements:     make([]db.Measurement, 0, len(p.Values)),
	}
	for _, v := range p.Values {
		sample.Measurements = append(sample.Measurements, db.Measurement{Value: v})
	}

	if err := s.db.CreateSample(sample); err != nil {
		return fmt.Errorf("failed to store measurement sample: %w", err)
	}
	return nil
}

// StartEnabledSubscribers connects a subscriber for every enabled broker
// configuration. Brokers that fail to connect are logged and skipped so
// one unreachable broker does not block the rest.
func StartEnabledSubscribers(database *db.DB) ([]*BrokerSubscriber, error) {
	brokers, err := database.GetEnabledBrokers()
	if err != nil {
		return nil, fmt.Errorf("failed to load broker configurations: %w", err)
	}

	var started []*BrokerSubscriber
	for _, broker := range brokers {
		sub := NewBrokerSubscriber(database, broker)
		if err := sub.Start(); err != nil {
			monitoring.Logf("Skipping MQTT broker %q: %v", broker.Name, err)
			continue
		}
		started = append(started, sub)
	}
	return started, nil
}
