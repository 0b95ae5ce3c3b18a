package realtime

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type captureBroker struct {
	raw [][]byte
	err error
}

func (b *captureBroker) PublishEvent(raw []byte) error {
	if b.err != nil {
		return b.err
	}
	b.raw = append(b.raw, raw)
	return nil
}

func u32(v uint32) *uint32 { return &v }

func drain(c *Client) []WSMessage {
	var out []WSMessage
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestHubPublishLocalFiltersByPoll(t *testing.T) {
	h := NewHub(nil, zaptest.NewLogger(t))
	all := newClient(h, nil)
	pollTwo := newClient(h, u32(2))
	pollThree := newClient(h, u32(3))
	for _, c := range []*Client{all, pollTwo, pollThree} {
		h.Register(c)
	}
	assert.Equal(t, 3, h.ClientCount())

	h.Publish("tx_confirmed", u32(2), map[string]string{"tx_hash": "0x01"})
	h.Publish("tx_submitted", nil, map[string]string{"kind": "create_poll"})

	assert.Len(t, drain(all), 2)
	got := drain(pollTwo)
	require.Len(t, got, 2)
	assert.Equal(t, "tx_confirmed", got[0].Event)
	require.NotNil(t, got[0].PollID)
	assert.Equal(t, uint32(2), *got[0].PollID)
	assert.JSONEq(t, `{"tx_hash":"0x01"}`, string(got[0].Data))

	other := drain(pollThree)
	require.Len(t, other, 1)
	assert.Equal(t, "tx_submitted", other[0].Event)
}

func TestHubPublishGoesThroughBroker(t *testing.T) {
	b := &captureBroker{}
	h := NewHub(b, zaptest.NewLogger(t))
	c := newClient(h, nil)
	h.Register(c)

	h.Publish("tx_dropped", u32(7), map[string]int{"attempt": 60})
	assert.Empty(t, drain(c))
	require.Len(t, b.raw, 1)

	h.Deliver(b.raw[0])
	got := drain(c)
	require.Len(t, got, 1)
	assert.Equal(t, "tx_dropped", got[0].Event)
	assert.Equal(t, uint32(7), *got[0].PollID)
}

func TestHubFallsBackToLocalWhenBrokerFails(t *testing.T) {
	h := NewHub(&captureBroker{err: errors.New("redis down")}, zaptest.NewLogger(t))
	c := newClient(h, nil)
	h.Register(c)

	h.Publish("tx_submitted", nil, nil)
	assert.Len(t, drain(c), 1)
}

func TestHubDeliverIgnoresGarbage(t *testing.T) {
	h := NewHub(nil, nil)
	c := newClient(h, nil)
	h.Register(c)
	h.Deliver([]byte("not json"))
	assert.Empty(t, drain(c))
}

func TestHubUnregisterClosesSend(t *testing.T) {
	h := NewHub(nil, nil)
	c := newClient(h, nil)
	h.Register(c)
	h.Unregister(c)
	h.Unregister(c)

	_, ok := <-c.send
	assert.False(t, ok)
	assert.Zero(t, h.ClientCount())

	h.Publish("tx_submitted", nil, nil)
}

func TestWSMessageOmitsEmptyPoll(t *testing.T) {
	raw, err := json.Marshal(WSMessage{Event: "tx_submitted"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"tx_submitted"}`, string(raw))
}
