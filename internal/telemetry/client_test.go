package telemetry

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakeSubscriber struct {
	mu     sync.Mutex
	topics []string
	qos    []byte
	failOn string
}

func (f *fakeSubscriber) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.qos = append(f.qos, qos)
	if topic == f.failOn {
		return doneToken{err: errors.New("not authorized")}
	}
	return doneToken{}
}

func newOfflineClient() *Client {
	return NewClient(Options{Broker: "tcp://127.0.0.1:1", ClientID: "linesim-test", QoS: 1, Timeout: 100 * time.Millisecond}, nil)
}

func TestClient_FailedSubscribeIsNotRemembered(t *testing.T) {
	c := newOfflineClient()
	err := c.Subscribe("factory/supply_chain/+/parts", func(string, []byte) {})
	require.Error(t, err)

	sub := &fakeSubscriber{}
	c.resubscribe(sub)
	assert.Empty(t, sub.topics)
}

func TestClient_ResubscribeRestoresEveryTopic(t *testing.T) {
	// GIVEN two subscriptions made before the connection dropped
	c := newOfflineClient()
	var got []string
	c.subs["factory/supply_chain/+/parts"] = func(_ mqtt.Client, m mqtt.Message) { got = append(got, m.Topic()) }
	c.subs["factory/commands"] = func(mqtt.Client, mqtt.Message) {}

	// WHEN the client reconnects and one topic is rejected
	sub := &fakeSubscriber{failOn: "factory/commands"}
	c.resubscribe(sub)

	// THEN both are attempted with the configured QoS and the rest still work
	topics := append([]string(nil), sub.topics...)
	sort.Strings(topics)
	assert.Equal(t, []string{"factory/commands", "factory/supply_chain/+/parts"}, topics)
	assert.Equal(t, []byte{1, 1}, sub.qos)

	c.subs["factory/supply_chain/+/parts"](nil, fakeMessage{topic: "factory/supply_chain/A01_DOOR/parts"})
	assert.Equal(t, []string{"factory/supply_chain/A01_DOOR/parts"}, got)
}

func TestClient_ResubscribeRunsAgainOnEveryReconnect(t *testing.T) {
	c := newOfflineClient()
	c.subs["factory/supply_chain/+/parts"] = func(mqtt.Client, mqtt.Message) {}

	sub := &fakeSubscriber{}
	c.resubscribe(sub)
	c.resubscribe(sub)
	assert.Equal(t, []string{"factory/supply_chain/+/parts", "factory/supply_chain/+/parts"}, sub.topics)
}
