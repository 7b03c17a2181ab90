package projection

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cannahum/eventsourcing-lite/event"
	"github.com/cannahum/eventsourcing-lite/eventbus"
	"github.com/cannahum/eventsourcing-lite/eventstore"
)

type todoCreated struct {
	Desc string `json:"desc"`
}

func newEvent(t *testing.T, name, aggregateID string) event.DomainEvent {
	t.Helper()
	e, err := event.New(name, aggregateID, "Todo", todoCreated{Desc: name + " " + aggregateID})
	require.NoError(t, err)
	return e
}

// callLog records the order in which projections are called
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) projection(tag string, err error) Projection {
	return ProjectionFunc(func(_ context.Context, e event.DomainEvent) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.calls = append(l.calls, tag+":"+e.Name)
		return err
	})
}

// todoList is a read model of todo descriptions by aggregate id
type todoList struct {
	mu    sync.Mutex
	items map[string]string
	done  map[string]bool
}

func newTodoList() *todoList {
	return &todoList{items: map[string]string{}, done: map[string]bool{}}
}

func (l *todoList) Project(_ context.Context, e event.DomainEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch e.Name {
	case "TodoCreated":
		var p todoCreated
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		l.items[e.AggregateID] = p.Desc
	case "TodoDone":
		if _, ok := l.items[e.AggregateID]; !ok {
			return errors.New("unknown todo " + e.AggregateID)
		}
		l.done[e.AggregateID] = true
	}
	return nil
}

func TestManager_ProjectEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("every projection once, in registration order", func(ct *testing.T) {
		log := &callLog{}
		m := NewManager()
		m.Register(log.projection("a", nil))
		m.Register(log.projection("b", nil))
		m.Register(log.projection("c", nil))
		assert.Equal(ct, 3, m.Len())

		require.NoError(ct, m.ProjectEvent(ctx, newEvent(ct, "TodoCreated", "todo-1")))
		require.NoError(ct, m.ProjectEvent(ctx, newEvent(ct, "TodoDone", "todo-1")))
		assert.Equal(ct, []string{
			"a:TodoCreated", "b:TodoCreated", "c:TodoCreated",
			"a:TodoDone", "b:TodoDone", "c:TodoDone",
		}, log.calls)
	})

	t.Run("no projections", func(ct *testing.T) {
		assert.NoError(ct, NewManager().ProjectEvent(ctx, newEvent(ct, "TodoCreated", "todo-1")))
	})

	t.Run("first failure stops the fan-out (error)", func(ct *testing.T) {
		log := &callLog{}
		core, logs := observer.New(zap.WarnLevel)
		boom := errors.New("read model unavailable")

		m := NewManager(WithLogger(zap.New(core)))
		m.Register(log.projection("a", nil))
		m.Register(log.projection("b", boom))
		m.Register(log.projection("c", nil))

		err := m.ProjectEvent(ctx, newEvent(ct, "TodoCreated", "todo-1"))
		assert.Same(ct, boom, err)
		assert.Equal(ct, []string{"a:TodoCreated", "b:TodoCreated"}, log.calls)

		entries := logs.FilterMessage("projection failed").All()
		require.Len(ct, entries, 1)
		assert.Equal(ct, int64(1), entries[0].ContextMap()["projection"])
		assert.Equal(ct, int64(1), entries[0].ContextMap()["skipped"])
	})
}

func TestWithLogger(t *testing.T) {
	log := &callLog{}
	boom := errors.New("read model unavailable")
	m := NewManager(WithLogger(nil))
	m.Register(log.projection("a", boom))

	err := m.ProjectEvent(context.Background(), newEvent(t, "TodoCreated", "todo-1"))
	assert.Same(t, boom, err)
}

func TestRebuild(t *testing.T) {
	ctx := context.Background()
	events := []event.DomainEvent{
		newEvent(t, "TodoCreated", "todo-1"),
		newEvent(t, "TodoCreated", "todo-2"),
		newEvent(t, "TodoDone", "todo-1"),
	}

	t.Run("replays the history in order", func(ct *testing.T) {
		list := newTodoList()
		require.NoError(ct, Rebuild(ctx, list, events))
		assert.Equal(ct, map[string]string{"todo-1": "TodoCreated todo-1", "todo-2": "TodoCreated todo-2"}, list.items)
		assert.Equal(ct, map[string]bool{"todo-1": true}, list.done)
	})

	t.Run("out of order history (error)", func(ct *testing.T) {
		list := newTodoList()
		err := Rebuild(ctx, list, []event.DomainEvent{events[2], events[0]})
		assert.EqualError(ct, err, "rebuild stopped at event 0 (TodoDone of todo-1): unknown todo todo-1")
		assert.Empty(ct, list.items)
	})

	t.Run("manager rebuild goes through every projection", func(ct *testing.T) {
		log := &callLog{}
		list := newTodoList()
		m := NewManager()
		m.Register(list)
		m.Register(log.projection("audit", nil))

		require.NoError(ct, m.Rebuild(ctx, events))
		assert.Len(ct, list.items, 2)
		assert.Equal(ct, []string{"audit:TodoCreated", "audit:TodoCreated", "audit:TodoDone"}, log.calls)
	})

	t.Run("manager rebuild from a store", func(ct *testing.T) {
		store := eventstore.GetLocalStore()
		require.NoError(ct, store.SaveEvents(ctx, "todo-1", []event.DomainEvent{events[0], events[2]}, eventstore.ExpectVersion(0)))
		require.NoError(ct, store.SaveEvents(ctx, "todo-2", []event.DomainEvent{events[1]}, eventstore.ExpectVersion(0)))

		list := newTodoList()
		m := NewManager()
		m.Register(list)

		require.NoError(ct, m.RebuildFromStore(ctx, store, "todo-1", "todo-2", "todo-3"))
		assert.Len(ct, list.items, 2)
		assert.True(ct, list.done["todo-1"])
	})
}

func TestAsHandler(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.NewInProcess()

	list := newTodoList()
	log := &callLog{}
	m := NewManager()
	m.Register(log.projection("audit", nil))

	require.NoError(t, bus.Subscribe("TodoCreated", AsHandler(list)))
	require.NoError(t, bus.SubscribeAll(m))

	require.NoError(t, bus.Publish(ctx, newEvent(t, "TodoCreated", "todo-1"), newEvent(t, "TodoDone", "todo-1")))

	assert.Equal(t, map[string]string{"todo-1": "TodoCreated todo-1"}, list.items)
	assert.Empty(t, list.done)
	assert.Equal(t, []string{"audit:TodoCreated", "audit:TodoDone"}, log.calls)
}
