package mqttpub

import (
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeClient struct {
	mu           sync.Mutex
	open         bool
	publishErr   error
	topics       []string
	payloads     [][]byte
	disconnected int
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload.([]byte))
	return newFakeToken(c.publishErr)
}

func (c *fakeClient) IsConnectionOpen() bool { return c.open }

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected++
	c.mu.Unlock()
}

func waitCounts(t *testing.T, p *Publisher, wantPublished, wantFailed uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		published, failed := p.Counts()
		if published == wantPublished && failed == wantFailed {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected published=%d failed=%d, got %d/%d", wantPublished, wantFailed, published, failed)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSendPublishesCopy(t *testing.T) {
	fc := &fakeClient{open: true}
	p := New(Options{Topic: "eidolon/snapshots"})
	p.client = fc

	payload := []byte(`{"a":1}`)
	if err := p.Send(payload); err != nil {
		t.Fatalf("send: %v", err)
	}
	payload[0] = 'X'
	waitCounts(t, p, 1, 0)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.topics[0] != "eidolon/snapshots" {
		t.Fatalf("unexpected topic %q", fc.topics[0])
	}
	if string(fc.payloads[0]) != `{"a":1}` {
		t.Fatalf("expected payload copy, got %q", fc.payloads[0])
	}
}

func TestSendWhenDisconnected(t *testing.T) {
	p := New(Options{Topic: "t"})
	if err := p.Send([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected without client, got %v", err)
	}
	p.client = &fakeClient{open: false}
	if err := p.Send([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	waitCounts(t, p, 0, 2)
}

func TestPublishFailureCounted(t *testing.T) {
	p := New(Options{Topic: "t"})
	p.client = &fakeClient{open: true, publishErr: errors.New("broker refused")}
	if err := p.Send([]byte("x")); err != nil {
		t.Fatalf("send should not wait for the broker: %v", err)
	}
	waitCounts(t, p, 0, 1)
}

func TestStopIdempotent(t *testing.T) {
	fc := &fakeClient{open: true}
	p := New(Options{Topic: "t"})
	p.client = fc
	p.Stop()
	p.Stop()
	if fc.disconnected != 1 {
		t.Fatalf("expected one disconnect, got %d", fc.disconnected)
	}
	if err := p.Send([]byte("x")); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestBrokerURLAndClientID(t *testing.T) {
	p := New(Options{Broker: "broker.local", Port: 1883})
	if got := p.BrokerURL(); got != "tcp://broker.local:1883" {
		t.Fatalf("unexpected broker url %q", got)
	}
	if p.opts.ClientID == "" {
		t.Fatalf("expected generated client id")
	}
}
