package eventsourcing

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/cannahum/eventsourcing-lite/event"
	"github.com/cannahum/eventsourcing-lite/eventstore"
)

// MyTodo is a test object - implements the Aggregate interface
type MyTodo struct {
	AggregateRoot
	Desc      string
	Done      bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type todoCreated struct {
	Desc string `json:"desc"`
}

func newMyTodo(id string) *MyTodo {
	return &MyTodo{AggregateRoot: NewAggregateRoot(id, "Todo")}
}

// ApplyEvent implements the Aggregate interface
func (t *MyTodo) ApplyEvent(e event.DomainEvent) error {
	switch e.Name {
	case "TodoCreated":
		var p todoCreated
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		t.Desc = p.Desc
		t.Done = false
		t.CreatedAt = e.Metadata.Timestamp
	case "TodoDone":
		t.Done = true
	case "TodoUndone":
		t.Done = false
	default:
		return ApplyFailed("unable to handle event %s", e.Name)
	}
	t.IncrementVersion()
	t.UpdatedAt = e.Metadata.Timestamp
	return nil
}

func (t *MyTodo) raise(name string, payload any) error {
	e, err := t.NewEvent(name, payload)
	if err != nil {
		return err
	}
	if err := t.ApplyEvent(e); err != nil {
		return err
	}
	t.AddEvent(e)
	return nil
}

// Create, MarkDone and MarkUndone are the MyTodo commands
func (t *MyTodo) Create(desc string) error {
	if t.Version() > 0 {
		return InvalidTransition("MyTodo %s already exists", t.AggregateID())
	}
	return t.raise("TodoCreated", todoCreated{Desc: desc})
}

func (t *MyTodo) MarkDone() error {
	if t.Done {
		return InvalidTransition("MyTodo %s is already done", t.AggregateID())
	}
	return t.raise("TodoDone", nil)
}

func (t *MyTodo) MarkUndone() error {
	if !t.Done {
		return InvalidTransition("MyTodo %s is already undone", t.AggregateID())
	}
	return t.raise("TodoUndone", nil)
}

// countingStore records how often the repository reaches the store
type countingStore struct {
	eventstore.EventStore
	loads, saves int32
}

func (s *countingStore) LoadEvents(ctx context.Context, id string, after *uint64) ([]event.DomainEvent, error) {
	atomic.AddInt32(&s.loads, 1)
	return s.EventStore.LoadEvents(ctx, id, after)
}

func (s *countingStore) SaveEvents(ctx context.Context, id string, events []event.DomainEvent, expected *uint64) error {
	atomic.AddInt32(&s.saves, 1)
	return s.EventStore.SaveEvents(ctx, id, events, expected)
}

func testStores(t *testing.T) map[string]eventstore.EventStore {
	sqliteStore, err := eventstore.OpenSQLite(filepath.Join(t.TempDir(), "todo.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqliteStore.Close()
	})
	return map[string]eventstore.EventStore{
		"local":  eventstore.GetLocalStore(),
		"sqlite": sqliteStore,
	}
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		repo := NewRepository(newMyTodo, store)

		t.Run(name+": non-existent aggregate is a fresh instance", func(ct *testing.T) {
			id := uuid.NewV4().String()
			todo, err := repo.Load(ctx, id)
			require.NoError(ct, err)
			assert.Equal(ct, newMyTodo(id), todo)
			assert.Equal(ct, uint64(0), todo.Version())
			assert.Empty(ct, todo.UncommittedEvents())
		})

		t.Run(name+": blank aggregateID (error)", func(ct *testing.T) {
			todo, err := repo.Load(ctx, "")
			assert.Error(ct, err)
			assert.Nil(ct, todo)
		})

		t.Run(name+": existent aggregate with multiple events", func(ct *testing.T) {
			id := uuid.NewV4().String()
			todo := newMyTodo(id)
			require.NoError(ct, todo.Create("Do that"))
			require.NoError(ct, todo.MarkDone())
			require.NoError(ct, repo.Save(ctx, todo))

			loaded, err := repo.Load(ctx, id)
			require.NoError(ct, err)
			assert.Equal(ct, todo, loaded)
			assert.Equal(ct, "Do that", loaded.Desc)
			assert.True(ct, loaded.Done)
			assert.Equal(ct, uint64(2), loaded.Version())
		})

		t.Run(name+": invalid aggregation (error)", func(ct *testing.T) {
			id := uuid.NewV4().String()
			todo := newMyTodo(id)
			require.NoError(ct, todo.Create("Do that"))
			require.NoError(ct, repo.Save(ctx, todo))

			unknown, err := event.New("TodoUnknown", id, "Todo", nil)
			require.NoError(ct, err)
			require.NoError(ct, store.SaveEvents(ctx, id, []event.DomainEvent{unknown}, nil))

			loaded, err := repo.Load(ctx, id)
			assert.Nil(ct, loaded)
			assert.True(ct, errors.Is(err, ErrEventApplicationFailed))
			assert.EqualError(ct, err, "event application failed: unable to handle event TodoUnknown")
		})

		t.Run(name+": apply error that is not an AggregateError (error)", func(ct *testing.T) {
			id := uuid.NewV4().String()
			broken := event.DomainEvent{Name: "TodoCreated", AggregateID: id, AggregateType: "Todo", Payload: []byte(`[]`)}
			require.NoError(ct, store.SaveEvents(ctx, id, []event.DomainEvent{broken}, nil))

			_, err := repo.Load(ctx, id)
			var aggErr *AggregateError
			require.True(ct, errors.As(err, &aggErr))
			assert.Equal(ct, EventApplicationFailed, aggErr.Kind)
			assert.NotNil(ct, aggErr.Unwrap())
		})
	}
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(newMyTodo, eventstore.GetLocalStore())

	t.Run("empty stream (error)", func(ct *testing.T) {
		todo, err := repo.Get(ctx, "missing")
		assert.Nil(ct, todo)
		assert.True(ct, errors.Is(err, ErrNotFound))
		assert.EqualError(ct, err, "aggregate not found: unable to find aggregate for id missing")
	})

	t.Run("existing aggregate", func(ct *testing.T) {
		todo := newMyTodo("todo-1")
		require.NoError(ct, todo.Create("Do this"))
		require.NoError(ct, repo.Save(ctx, todo))

		got, err := repo.Get(ctx, "todo-1")
		require.NoError(ct, err)
		assert.Equal(ct, "Do this", got.Desc)
	})
}

func TestSave(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		repo := NewRepository(newMyTodo, store)

		t.Run(name+": uncommitted events are empty after save", func(ct *testing.T) {
			todo := newMyTodo(uuid.NewV4().String())
			require.NoError(ct, todo.Create("Do this"))
			require.Len(ct, todo.UncommittedEvents(), 1)

			require.NoError(ct, repo.Save(ctx, todo))
			assert.Len(ct, todo.UncommittedEvents(), 0)
			assert.Equal(ct, uint64(1), todo.Version())
		})

		t.Run(name+": saving twice after more changes", func(ct *testing.T) {
			id := uuid.NewV4().String()
			todo := newMyTodo(id)
			require.NoError(ct, todo.Create("Do this"))
			require.NoError(ct, repo.Save(ctx, todo))
			require.NoError(ct, todo.MarkDone())
			require.NoError(ct, todo.MarkUndone())
			require.NoError(ct, repo.Save(ctx, todo))

			version, err := store.Version(ctx, id)
			require.NoError(ct, err)
			assert.Equal(ct, uint64(3), version)

			loaded, err := repo.Load(ctx, id)
			require.NoError(ct, err)
			assert.Equal(ct, todo, loaded)
		})

		t.Run(name+": concurrent saves on the same version, one conflicts (error)", func(ct *testing.T) {
			id := uuid.NewV4().String()
			todo := newMyTodo(id)
			require.NoError(ct, todo.Create("Do this"))
			require.NoError(ct, repo.Save(ctx, todo))

			first, err := repo.Load(ctx, id)
			require.NoError(ct, err)
			second, err := repo.Load(ctx, id)
			require.NoError(ct, err)

			require.NoError(ct, first.MarkDone())
			require.NoError(ct, second.MarkDone())

			require.NoError(ct, repo.Save(ctx, first))
			err = repo.Save(ctx, second)
			require.Error(ct, err)
			assert.True(ct, errors.Is(err, ErrVersionConflict))
			assert.True(ct, errors.Is(err, eventstore.ErrVersionConflict))
			assert.EqualError(ct, err, "version conflict: expected 1, actual 2")
			assert.Len(ct, second.UncommittedEvents(), 1)

			// reload, reapply, retry
			retried, err := repo.Load(ctx, id)
			require.NoError(ct, err)
			assert.True(ct, errors.Is(retried.MarkDone(), ErrInvalidStateTransition))
			require.NoError(ct, retried.MarkUndone())
			require.NoError(ct, repo.Save(ctx, retried))
		})
	}

	t.Run("nothing to save does not touch the store", func(ct *testing.T) {
		store := &countingStore{EventStore: eventstore.GetLocalStore()}
		repo := NewRepository(newMyTodo, store)

		require.NoError(ct, repo.Save(ctx, newMyTodo("todo-1")))
		assert.Equal(ct, int32(0), store.saves)
		assert.Equal(ct, int32(0), store.loads)
	})

	t.Run("exactly one of many concurrent saves wins", func(ct *testing.T) {
		repo := NewRepository(newMyTodo, eventstore.GetLocalStore())
		id := uuid.NewV4().String()
		todo := newMyTodo(id)
		require.NoError(ct, todo.Create("Do this"))
		require.NoError(ct, repo.Save(ctx, todo))

		const writers = 10
		copies := make([]*MyTodo, writers)
		for i := range copies {
			loaded, err := repo.Load(ctx, id)
			require.NoError(ct, err)
			require.NoError(ct, loaded.MarkDone())
			copies[i] = loaded
		}

		var won, lost int32
		var g errgroup.Group
		for _, c := range copies {
			g.Go(func() error {
				err := repo.Save(ctx, c)
				switch {
				case err == nil:
					atomic.AddInt32(&won, 1)
				case errors.Is(err, ErrVersionConflict):
					atomic.AddInt32(&lost, 1)
				default:
					return err
				}
				return nil
			})
		}
		require.NoError(ct, g.Wait())
		assert.Equal(ct, int32(1), won)
		assert.Equal(ct, int32(writers-1), lost)
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{EventStore: eventstore.GetLocalStore()}
	repo := NewRepository(newMyTodo, store)

	todo, err := repo.Update(ctx, "todo-1", func(td *MyTodo) error {
		return td.Create("Do this")
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), todo.Version())
	assert.Empty(t, todo.UncommittedEvents())

	t.Run("command error is not saved (error)", func(ct *testing.T) {
		saves := atomic.LoadInt32(&store.saves)
		updated, err := repo.Update(ctx, "todo-1", func(td *MyTodo) error {
			return td.MarkUndone()
		})
		assert.Nil(ct, updated)
		assert.True(ct, errors.Is(err, ErrInvalidStateTransition))
		assert.Equal(ct, saves, atomic.LoadInt32(&store.saves))
	})

	t.Run("change is saved", func(ct *testing.T) {
		updated, err := repo.Update(ctx, "todo-1", func(td *MyTodo) error {
			return td.MarkDone()
		})
		require.NoError(ct, err)
		assert.True(ct, updated.Done)

		loaded, err := repo.Get(ctx, "todo-1")
		require.NoError(ct, err)
		assert.True(ct, loaded.Done)
		assert.Equal(ct, uint64(2), loaded.Version())
	})
}

func TestSnapshotHook(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.InfoLevel)
	repo := NewRepository(newMyTodo, eventstore.GetLocalStore(),
		WithSnapshotFrequency(2),
		WithLogger(zap.New(core)),
	)

	todo := newMyTodo("todo-1")
	require.NoError(t, todo.Create("Do this"))
	require.NoError(t, repo.Save(ctx, todo))
	assert.Equal(t, 0, logs.FilterMessage("snapshot due").Len())

	require.NoError(t, todo.MarkDone())
	require.NoError(t, repo.Save(ctx, todo))
	due := logs.FilterMessage("snapshot due").All()
	require.Len(t, due, 1)
	assert.Equal(t, "todo-1", due[0].ContextMap()["aggregate_id"])
	assert.Equal(t, uint64(2), due[0].ContextMap()["version"])

	require.NoError(t, todo.MarkUndone())
	require.NoError(t, repo.Save(ctx, todo))
	assert.Equal(t, 1, logs.FilterMessage("snapshot due").Len())

	// the hook persists nothing, Load still replays the whole stream
	loaded, err := repo.Load(ctx, "todo-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), loaded.Version())
}

func TestWithLogger(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(newMyTodo, eventstore.GetLocalStore(),
		WithLogger(nil),
		WithSnapshotFrequency(1),
	)

	todo := newMyTodo("todo-1")
	require.NoError(t, todo.Create("Do this"))
	require.NoError(t, repo.Save(ctx, todo))

	loaded, err := repo.Load(ctx, "todo-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), loaded.Version())
}

func TestSnapshotDue(t *testing.T) {
	assert.False(t, snapshotDue(0, 10))
	assert.False(t, snapshotDue(5, 0))
	assert.False(t, snapshotDue(5, 4))
	assert.True(t, snapshotDue(5, 5))
	assert.True(t, snapshotDue(5, 10))
	assert.True(t, snapshotDue(1, 1))
}
