package event

import (
	"encoding/json"
	"testing"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type todoCreated struct {
	Desc string `json:"desc"`
}

func TestNew(t *testing.T) {
	t.Run("struct payload", func(ct *testing.T) {
		e, err := New("TodoCreated", "todo-1", "Todo", todoCreated{Desc: "Do this"})
		require.NoError(ct, err)

		assert.Equal(ct, "TodoCreated", e.Name)
		assert.Equal(ct, "todo-1", e.AggregateID)
		assert.Equal(ct, "Todo", e.AggregateType)
		assert.JSONEq(ct, `{"desc":"Do this"}`, string(e.Payload))
		assert.NotEqual(ct, uuid.Nil, e.Metadata.ID)
		assert.WithinDuration(ct, time.Now(), e.Metadata.Timestamp, time.Second)

		var decoded todoCreated
		require.NoError(ct, e.DecodePayload(&decoded))
		assert.Equal(ct, "Do this", decoded.Desc)
	})

	t.Run("raw payload is copied", func(ct *testing.T) {
		raw := json.RawMessage(`{"desc":"raw"}`)
		e, err := New("TodoCreated", "todo-1", "Todo", raw)
		require.NoError(ct, err)

		raw[2] = 'X'
		assert.JSONEq(ct, `{"desc":"raw"}`, string(e.Payload))
	})

	t.Run("nil payload", func(ct *testing.T) {
		e, err := New("TodoDone", "todo-1", "Todo", nil)
		require.NoError(ct, err)
		assert.Equal(ct, "null", string(e.Payload))
	})

	t.Run("invalid raw payload (error)", func(ct *testing.T) {
		_, err := New("TodoDone", "todo-1", "Todo", []byte("{not json"))
		assert.Error(ct, err)
	})

	t.Run("unencodable payload (error)", func(ct *testing.T) {
		_, err := New("TodoDone", "todo-1", "Todo", make(chan int))
		assert.Error(ct, err)
	})

	t.Run("ids are unique", func(ct *testing.T) {
		a, _ := New("TodoDone", "todo-1", "Todo", nil)
		b, _ := New("TodoDone", "todo-1", "Todo", nil)
		assert.NotEqual(ct, a.Metadata.ID, b.Metadata.ID)
	})
}

func TestDomainEventCopies(t *testing.T) {
	e, err := New("TodoCreated", "todo-1", "Todo", todoCreated{Desc: "x"})
	require.NoError(t, err)

	correlated := e.WithCorrelation("corr-1", "cause-1").WithUser("user-1")
	assert.Equal(t, "corr-1", correlated.Metadata.CorrelationID)
	assert.Equal(t, "cause-1", correlated.Metadata.CausationID)
	assert.Equal(t, "user-1", correlated.Metadata.UserID)
	assert.Empty(t, e.Metadata.CorrelationID)
	assert.Equal(t, e.Metadata.ID, correlated.Metadata.ID)
}

func TestDecodePayloadErrors(t *testing.T) {
	var v todoCreated
	assert.Error(t, DomainEvent{Name: "Empty"}.DecodePayload(&v))
	assert.Error(t, DomainEvent{Name: "Bad", Payload: json.RawMessage(`[1,2]`)}.DecodePayload(&v))
}
