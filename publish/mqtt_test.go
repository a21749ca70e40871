package publish

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func pendingToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	connected    bool
	connectToken mqtt.Token
	publishToken mqtt.Token
	published    []published
	disconnected bool
}

func (c *fakeClient) Connect() mqtt.Token     { return c.connectToken }
func (c *fakeClient) Disconnect(quiesce uint) { c.disconnected = true }
func (c *fakeClient) IsConnectionOpen() bool  { return c.connected }
func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.published = append(c.published, published{topic: topic, payload: payload.([]byte)})
	return c.publishToken
}

func TestNewMQTT(t *testing.T) {
	if _, err := NewMQTT(MQTTConfig{}, nil); !errors.Is(err, ErrNoBroker) {
		t.Errorf("expected ErrNoBroker, got: %v", err)
	}

	m, err := NewMQTT(MQTTConfig{Broker: "tcp://localhost:1883", ClientID: "obdgw", StatusTopic: "wican/status"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.IsConnected() {
		t.Error("expected publisher to be disconnected before Connect")
	}
	if err := m.Publish("wican/rx", []byte("{}")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got: %v", err)
	}
}

func TestMQTTConnect(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		c := &fakeClient{connectToken: completedToken(nil)}
		m := newMQTT(c, MQTTConfig{Broker: "tcp://broker:1883"}, slog.Default())
		if err := m.Connect(context.Background()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("Broker refuses", func(t *testing.T) {
		refused := errors.New("not authorized")
		c := &fakeClient{connectToken: completedToken(refused)}
		m := newMQTT(c, MQTTConfig{Broker: "tcp://broker:1883"}, slog.Default())
		if err := m.Connect(context.Background()); !errors.Is(err, refused) {
			t.Errorf("expected wrapped refusal, got: %v", err)
		}
	})

	t.Run("Context ends first", func(t *testing.T) {
		c := &fakeClient{connectToken: pendingToken()}
		m := newMQTT(c, MQTTConfig{Broker: "tcp://broker:1883"}, slog.Default())

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if err := m.Connect(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected context.DeadlineExceeded, got: %v", err)
		}
	})
}

func TestMQTTPublish(t *testing.T) {
	t.Run("Delivers payload", func(t *testing.T) {
		c := &fakeClient{connected: true, publishToken: completedToken(nil)}
		m := newMQTT(c, MQTTConfig{Broker: "tcp://broker:1883"}, slog.Default())

		payload := []byte(`{"rpm":1726,"raw":"410C1AF8"}`)
		if err := m.Publish("wican/rx", payload); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(c.published) != 1 || c.published[0].topic != "wican/rx" || string(c.published[0].payload) != string(payload) {
			t.Errorf("unexpected publish %+v", c.published)
		}
	})

	t.Run("Not connected", func(t *testing.T) {
		c := &fakeClient{}
		m := newMQTT(c, MQTTConfig{Broker: "tcp://broker:1883"}, slog.Default())
		if err := m.Publish("wican/rx", []byte("{}")); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got: %v", err)
		}
		if len(c.published) != 0 {
			t.Error("expected nothing to be published")
		}
	})

	t.Run("Acknowledgement timeout", func(t *testing.T) {
		c := &fakeClient{connected: true, publishToken: pendingToken()}
		m := newMQTT(c, MQTTConfig{Broker: "tcp://broker:1883", PublishTimeout: 10 * time.Millisecond}, slog.Default())
		if err := m.Publish("wican/rx", []byte("{}")); !errors.Is(err, ErrPublishTimeout) {
			t.Errorf("expected ErrPublishTimeout, got: %v", err)
		}
	})

	t.Run("Broker error", func(t *testing.T) {
		brokerErr := errors.New("connection reset")
		c := &fakeClient{connected: true, publishToken: completedToken(brokerErr)}
		m := newMQTT(c, MQTTConfig{Broker: "tcp://broker:1883"}, slog.Default())
		if err := m.Publish("wican/rx", []byte("{}")); !errors.Is(err, brokerErr) {
			t.Errorf("expected broker error, got: %v", err)
		}
	})
}

func TestMQTTClose(t *testing.T) {
	c := &fakeClient{}
	m := newMQTT(c, MQTTConfig{Broker: "tcp://broker:1883"}, slog.Default())
	m.Close()
	if !c.disconnected {
		t.Error("expected client to be disconnected")
	}
}
