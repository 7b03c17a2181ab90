package eventstore

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONSerializer(t *testing.T) {
	events := makeEvents(t, "todo-1", "TodoCreated", "TodoCompleted")

	t.Run("Marshal -> Unmarshal", func(ct *testing.T) {
		s := NewJSONSerializer()
		history, err := marshalAll(s, 4, events)
		require.NoError(ct, err)
		require.Len(ct, history, 2)
		assert.Equal(ct, uint64(5), history[0].Version)
		assert.Equal(ct, uint64(6), history[1].Version)

		decoded, err := unmarshalAll(s, history)
		require.NoError(ct, err)
		assertSameEvents(ct, events, decoded)
	})

	t.Run("Bind adds event names", func(ct *testing.T) {
		s := NewJSONSerializer("TodoCreated")
		history, err := marshalAll(s, 0, events)
		require.NoError(ct, err)

		_, err = unmarshalAll(s, history)
		assert.EqualError(ct, err, "unbound event type, TodoCompleted")

		s.Bind("TodoCompleted")
		decoded, err := unmarshalAll(s, history)
		require.NoError(ct, err)
		assertSameEvents(ct, events, decoded)
	})

	t.Run("garbage record (error)", func(ct *testing.T) {
		_, err := NewJSONSerializer().UnmarshalEvent(Record{Version: 3, Data: []byte("not json")})
		assert.ErrorContains(ct, err, "unable to unmarshal record 3")
	})
}

func TestHistory_Sort(t *testing.T) {
	h := History{{Version: 3}, {Version: 1}, {Version: 2}}
	sort.Sort(h)
	assert.Equal(t, History{{Version: 1}, {Version: 2}, {Version: 3}}, h)
}
