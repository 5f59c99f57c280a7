package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done bool
	err  error
}

func (t fakeToken) Wait() bool                     { return t.done }
func (t fakeToken) WaitTimeout(time.Duration) bool { return t.done }
func (t fakeToken) Error() error                   { return t.err }

func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMQTT struct {
	topic   string
	payload []byte
	token   fakeToken
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.topic = topic
	f.payload = payload.([]byte)
	return f.token
}

func TestMQTTPublisher_Topic(t *testing.T) {
	fake := &fakeMQTT{token: fakeToken{done: true}}
	p := NewMQTTPublisher(fake, "")

	require.NoError(t, p.Publish(context.Background(), Event{Type: CaseStatusAdvanced, Facility: "north", Status: "in-progress"}))
	assert.Equal(t, "periop/north/case.status-advanced", fake.topic)

	var ev Event
	require.NoError(t, json.Unmarshal(fake.payload, &ev))
	assert.Equal(t, "in-progress", ev.Status)

	assert.Equal(t, "boards/_/shift.saved", NewMQTTPublisher(fake, "boards").Topic(Event{Type: ShiftSaved}))
}

func TestMQTTPublisher_Errors(t *testing.T) {
	timedOut := NewMQTTPublisher(&fakeMQTT{token: fakeToken{done: false}}, "")
	err := timedOut.Publish(context.Background(), Event{Type: ShiftSaved})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")

	failing := NewMQTTPublisher(&fakeMQTT{token: fakeToken{done: true, err: errors.New("not connected")}}, "")
	err = failing.Publish(context.Background(), Event{Type: ShiftSaved})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}
