package ingest

import (
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTOptions configures a remote notification source.
type MQTTOptions struct {
	Broker   string
	Port     int
	Topic    string
	ClientID string
	QoS      byte
}

// MQTTSource subscribes to a broker topic and forwards every payload to the
// ingestor as a Raw notification.
//
// Thread Safety:
//   - paho delivers messages on its own goroutines; Handle is safe for that
//   - auto-reconnect and resubscribe are handled in onConnect
type MQTTSource struct {
	opts    MQTTOptions
	handle  func(Notification)
	client  mqtt.Client
	mu      sync.Mutex
	stopped bool
}

// NewMQTTSource returns a source that forwards payloads to handle.
func NewMQTTSource(opts MQTTOptions, handle func(Notification)) *MQTTSource {
	if opts.ClientID == "" {
		opts.ClientID = fmt.Sprintf("eidolon-ingest-%d", time.Now().Unix())
	}
	return &MQTTSource{opts: opts, handle: handle}
}

// BrokerURL returns the tcp:// address the client connects to.
func (s *MQTTSource) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", s.opts.Broker, s.opts.Port)
}

// Connect establishes the broker connection. Subscription happens in the
// connect handler so it is repeated after every reconnect.
func (s *MQTTSource) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.BrokerURL())
	opts.SetClientID(s.opts.ClientID)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(s.onConnectionLost)

	client := mqtt.NewClient(opts)
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	log.Printf("MQTT ingest: connecting to %s...", s.BrokerURL())
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("ingest: mqtt connect %s: %w", s.BrokerURL(), token.Error())
	}
	return nil
}

func (s *MQTTSource) onConnect(client mqtt.Client) {
	log.Printf("MQTT ingest: connected, subscribing to %s", s.opts.Topic)
	token := client.Subscribe(s.opts.Topic, s.opts.QoS, s.messageHandler)
	if token.Wait() && token.Error() != nil {
		log.Printf("MQTT ingest: subscribe failed: %v", token.Error())
	}
}

func (s *MQTTSource) onConnectionLost(_ mqtt.Client, err error) {
	log.Printf("MQTT ingest: connection lost: %v (will reconnect)", err)
}

func (s *MQTTSource) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	s.deliver(msg.Payload())
}

func (s *MQTTSource) deliver(payload []byte) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.handle(Raw{Payload: buf})
}

// Stop unsubscribes and disconnects. Safe to call repeatedly.
func (s *MQTTSource) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	client := s.client
	s.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return
	}
	if token := client.Unsubscribe(s.opts.Topic); token.WaitTimeout(2*time.Second) && token.Error() != nil {
		log.Printf("MQTT ingest: unsubscribe failed: %v", token.Error())
	}
	client.Disconnect(250)
}
