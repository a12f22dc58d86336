package transmit

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// DefaultBufferSize is how many readings park in memory while the broker
// is unreachable.
const DefaultBufferSize = 64

const publishTimeout = 5 * time.Second

// MQTTOptions configure an MQTTSender.
type MQTTOptions struct {
	// Broker is the broker URL, e.g. tcp://192.168.1.200:1883.
	Broker string
	// ClientID defaults to "doorwatch".
	ClientID string
	// Topic for readings, DefaultTopic when empty.
	Topic string
	// SystemTopic for lifecycle events, DefaultSystemTopic when empty.
	SystemTopic string
	// BufferSize caps the offline buffer, DefaultBufferSize when zero.
	BufferSize int
	// Log receives connection and buffering notices. Defaults to the
	// standard logrus logger.
	Log *logrus.Entry
}

// MQTTSender publishes readings to an MQTT broker at QoS 1. While the
// broker is unreachable, readings park in a fixed ring buffer (oldest
// dropped on overflow) and replay in order on reconnect; Send reports
// success for a buffered reading because the transport still owns it.
type MQTTSender struct {
	client paho.Client
	topic  string
	system string
	log    *logrus.Entry

	mu        sync.Mutex
	connected bool
	pending   *ringBuffer
}

// NewMQTTSender connects to the broker. The broker keeps an unclean
// disconnect visible to subscribers through a will message on the system
// topic.
func NewMQTTSender(opts MQTTOptions) (*MQTTSender, error) {
	topic := opts.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	system := opts.SystemTopic
	if system == "" {
		system = DefaultSystemTopic
	}
	clientID := opts.ClientID
	if clientID == "" {
		clientID = "doorwatch"
	}
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &MQTTSender{
		topic:   topic,
		system:  system,
		log:     log,
		pending: newRingBuffer(size),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     EventLost,
		Reason:    "unclean disconnect",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(system, will, 1, false).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost)

	s.client = paho.NewClient(clientOpts)
	token := s.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return s, nil
}

// Send publishes the reading, or parks it while disconnected.
func (s *MQTTSender) Send(ctx context.Context, r Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := FormatPayload(r)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return s.publish(s.topic, 1, false, payload)
}

// SendSystem publishes a lifecycle event on the system topic.
func (s *MQTTSender) SendSystem(ev SystemEvent) error {
	payload, err := FormatSystemPayload(ev)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return s.publish(s.system, 1, ev.Retained, payload)
}

// IsConnected reports the tracked link state.
func (s *MQTTSender) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Close disconnects from the broker, allowing in-flight messages a moment
// to flush.
func (s *MQTTSender) Close() error {
	s.client.Disconnect(1000)
	return nil
}

func (s *MQTTSender) publish(topic string, qos byte, retained bool, payload []byte) error {
	s.mu.Lock()
	if !s.connected {
		dropped := s.pending.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		queued := s.pending.len()
		s.mu.Unlock()
		if dropped {
			s.log.WithField("capacity", queued).Warn("offline buffer full, dropped oldest message")
		} else {
			s.log.WithField("queued", queued).Debug("broker unreachable, message buffered")
		}
		return nil
	}
	s.mu.Unlock()

	token := s.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (s *MQTTSender) onConnect(_ paho.Client) {
	s.mu.Lock()
	reconnect := s.pending.len() > 0
	s.connected = true
	queued := s.pending.drainAll()
	s.mu.Unlock()

	for _, msg := range queued {
		token := s.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
		if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
			s.log.WithField("topic", msg.topic).Warn("replay of buffered message failed")
		}
	}
	if reconnect {
		s.log.WithField("replayed", len(queued)).Info("broker reconnected, buffer replayed")
		if err := s.SendSystem(SystemEvent{Timestamp: time.Now(), Event: EventReconnected}); err != nil {
			s.log.WithError(err).Warn("reconnect notice failed")
		}
	}
}

func (s *MQTTSender) onConnectionLost(_ paho.Client, err error) {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.log.WithError(err).Warn("broker connection lost")
}
