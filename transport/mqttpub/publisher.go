// Package mqttpub publishes every broadcast snapshot to an MQTT topic. A
// Publisher is a subscriber.Registry member like any WebSocket or telnet
// client, so a broker outage only fails its own deliveries.
package mqttpub

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// TransportMQTT labels the publisher in stats.
const TransportMQTT = "mqtt"

var (
	ErrNotConnected = errors.New("mqtt publisher not connected")
	ErrStopped      = errors.New("mqtt publisher stopped")
)

// Options configures the publisher.
type Options struct {
	Broker   string
	Port     int
	Topic    string
	ClientID string
	QoS      byte
	Retained bool
}

// client is the part of mqtt.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnectionOpen() bool
	Disconnect(quiesce uint)
}

// Publisher forwards payloads to the broker. Publish tokens are not awaited;
// paho queues them and failures surface through the completion callback.
type Publisher struct {
	opts   Options
	mu     sync.Mutex
	client client

	stopped   atomic.Bool
	published atomic.Uint64
	failed    atomic.Uint64
}

// New returns an unconnected publisher.
func New(opts Options) *Publisher {
	if opts.ClientID == "" {
		opts.ClientID = fmt.Sprintf("eidolon-publish-%d", time.Now().Unix())
	}
	return &Publisher{opts: opts}
}

// BrokerURL returns the tcp:// address the client connects to.
func (p *Publisher) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", p.opts.Broker, p.opts.Port)
}

// Connect establishes the broker connection with auto-reconnect.
func (p *Publisher) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.BrokerURL())
	opts.SetClientID(p.opts.ClientID)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Printf("MQTT publisher: connected, publishing to %s", p.opts.Topic)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("MQTT publisher: connection lost: %v", err)
	})

	c := mqtt.NewClient(opts)
	log.Printf("MQTT publisher: connecting to %s...", p.BrokerURL())
	token := c.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqttpub: connect %s: %w", p.BrokerURL(), token.Error())
	}
	p.mu.Lock()
	p.client = c
	p.mu.Unlock()
	return nil
}

// Send publishes payload without waiting for the broker acknowledgement.
func (p *Publisher) Send(payload []byte) error {
	if p.stopped.Load() {
		return ErrStopped
	}
	p.mu.Lock()
	c := p.client
	p.mu.Unlock()
	if c == nil || !c.IsConnectionOpen() {
		p.failed.Add(1)
		return ErrNotConnected
	}
	// paho may hold the slice until the packet is written.
	msg := append([]byte(nil), payload...)
	token := c.Publish(p.opts.Topic, p.opts.QoS, p.opts.Retained, msg)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			if n := p.failed.Add(1); n == 1 || n%100 == 0 {
				log.Printf("MQTT publisher: publish to %s failed: %v (total failures=%d)", p.opts.Topic, err, n)
			}
			return
		}
		p.published.Add(1)
	}()
	return nil
}

// Transport labels the subscriber for stats.
func (p *Publisher) Transport() string { return TransportMQTT }

// Counts returns acknowledged publishes and failures.
func (p *Publisher) Counts() (published, failed uint64) {
	return p.published.Load(), p.failed.Load()
}

// Stop disconnects from the broker. Safe to call more than once.
func (p *Publisher) Stop() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	c := p.client
	p.client = nil
	p.mu.Unlock()
	if c != nil {
		c.Disconnect(250)
	}
	log.Println("MQTT publisher stopped")
}
