package container

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu         sync.Mutex
	containers map[string]*Summary
	created    []CreateRequest
	stopped    []string
	removed    []string

	findErr   error
	createErr error
	startErr  error
	removeErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{containers: make(map[string]*Summary)}
}

func (f *fakeEngine) Ping(context.Context) error { return nil }

func (f *fakeEngine) Find(_ context.Context, name string) (*Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.containers[name], nil
}

func (f *fakeEngine) Create(_ context.Context, req CreateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, req)
	cid := "cid-" + req.Name
	f.containers[req.Name] = &Summary{ID: cid, Name: req.Name, State: "created"}
	return cid, nil
}

func (f *fakeEngine) Start(_ context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	for _, c := range f.containers {
		if c.ID == containerID {
			c.State = "running"
		}
	}
	return nil
}

func (f *fakeEngine) Stop(_ context.Context, containerID string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, containerID)
	for _, c := range f.containers {
		if c.ID == containerID {
			c.State = "exited"
		}
	}
	return nil
}

func (f *fakeEngine) Remove(_ context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, containerID)
	if f.removeErr != nil {
		return f.removeErr
	}
	for name, c := range f.containers {
		if c.ID == containerID {
			delete(f.containers, name)
		}
	}
	return nil
}

func (f *fakeEngine) Close() error { return nil }

func TestProvision(t *testing.T) {
	ctx := context.Background()

	t.Run("creates and starts with defaults", func(t *testing.T) {
		eng := newFakeEngine()
		m := NewManager(eng, Config{}, nil)

		res := m.Provision(ctx, Spec{Key: "orders"})
		require.True(t, res.Success, res.Error)
		require.NotNil(t, res.Handle)

		assert.Equal(t, "rabbitmq-orders", res.Handle.Name)
		assert.Equal(t, StateRunning, res.Handle.State)
		assert.Equal(t, 5672, res.Handle.Port)
		assert.Equal(t, 15672, res.Handle.ManagementPort)
		assert.Equal(t, "guest", res.Handle.Username)

		require.Len(t, eng.created, 1)
		req := eng.created[0]
		assert.Equal(t, "rabbitmq:3-management", req.Image)
		assert.Equal(t, RestartUnlessStopped, req.RestartPolicy)
		assert.Equal(t, int64(512*1024*1024), req.MemoryBytes)
		assert.Equal(t, map[int]int{5672: 5672, 15672: 15672}, req.Ports)
		assert.Contains(t, req.Env, "RABBITMQ_DEFAULT_USER=guest")
		assert.Contains(t, req.Env, "RABBITMQ_DEFAULT_VHOST=/")
		assert.Contains(t, req.Env, "RABBITMQ_MANAGEMENT_PATH_PREFIX=/")
	})

	t.Run("honours caller ports credentials and restart", func(t *testing.T) {
		eng := newFakeEngine()
		m := NewManager(eng, Config{}, nil)

		res := m.Provision(ctx, Spec{
			Key:            "docker-rabbit-1",
			Port:           5673,
			ManagementPort: 15673,
			Username:       "admin",
			Password:       "secret123",
			MemoryMB:       1024,
			DisableRestart: true,
		})
		require.True(t, res.Success, res.Error)

		req := eng.created[0]
		assert.Equal(t, map[int]int{5672: 5673, 15672: 15673}, req.Ports)
		assert.Equal(t, RestartNo, req.RestartPolicy)
		assert.Equal(t, int64(1024*1024*1024), req.MemoryBytes)
		assert.Contains(t, req.Env, "RABBITMQ_DEFAULT_PASS=secret123")
	})

	t.Run("rejects existing container", func(t *testing.T) {
		eng := newFakeEngine()
		eng.containers["rabbitmq-orders"] = &Summary{ID: "old", Name: "rabbitmq-orders", State: "exited"}
		m := NewManager(eng, Config{}, nil)

		res := m.Provision(ctx, Spec{Key: "orders"})
		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err, ErrExists)
		assert.Empty(t, eng.created)
	})

	t.Run("rejects memory out of range", func(t *testing.T) {
		m := NewManager(newFakeEngine(), Config{}, nil)

		res := m.Provision(ctx, Spec{Key: "orders", MemoryMB: 64})
		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err, ErrInvalidMemory)
	})

	t.Run("reports created-but-unstarted container", func(t *testing.T) {
		eng := newFakeEngine()
		eng.startErr = errors.New("port is already allocated")
		m := NewManager(eng, Config{}, nil)

		res := m.Provision(ctx, Spec{Key: "orders"})
		assert.False(t, res.Success)
		require.NotNil(t, res.Handle)
		assert.Equal(t, StateCreated, res.Handle.State)
		assert.Equal(t, "cid-rabbitmq-orders", res.Handle.ID)
		assert.Contains(t, res.Error, "port is already allocated")
	})
}

func TestTeardown(t *testing.T) {
	ctx := context.Background()

	t.Run("stops running container before removing", func(t *testing.T) {
		eng := newFakeEngine()
		eng.containers["rabbitmq-orders"] = &Summary{ID: "c1", Name: "rabbitmq-orders", State: "running"}
		m := NewManager(eng, Config{}, nil)

		assert.True(t, m.Teardown(ctx, "orders"))
		assert.Equal(t, []string{"c1"}, eng.stopped)
		assert.Equal(t, []string{"c1"}, eng.removed)
	})

	t.Run("skips stop for exited container", func(t *testing.T) {
		eng := newFakeEngine()
		eng.containers["rabbitmq-orders"] = &Summary{ID: "c1", Name: "rabbitmq-orders", State: "exited"}
		m := NewManager(eng, Config{}, nil)

		assert.True(t, m.Teardown(ctx, "orders"))
		assert.Empty(t, eng.stopped)
	})

	t.Run("missing container", func(t *testing.T) {
		m := NewManager(newFakeEngine(), Config{}, nil)
		assert.False(t, m.Teardown(ctx, "ghost"))
	})

	t.Run("remove failure is attempted once", func(t *testing.T) {
		eng := newFakeEngine()
		eng.containers["rabbitmq-orders"] = &Summary{ID: "c1", Name: "rabbitmq-orders", State: "exited"}
		eng.removeErr = errors.New("device busy")
		m := NewManager(eng, Config{}, nil)

		assert.False(t, m.Teardown(ctx, "orders"))
		assert.Len(t, eng.removed, 1)
	})
}

func TestStatus(t *testing.T) {
	ctx := context.Background()

	cases := map[string]State{
		"running":    StateRunning,
		"exited":     StateStopped,
		"created":    StateCreated,
		"restarting": StateRunning,
		"paused":     StateStopped,
		"dead":       StateUnknown,
	}
	for runtime, want := range cases {
		eng := newFakeEngine()
		eng.containers["rabbitmq-k"] = &Summary{ID: "c", Name: "rabbitmq-k", State: runtime}
		m := NewManager(eng, Config{}, nil)
		assert.Equal(t, want, m.Status(ctx, "k"), runtime)
	}

	m := NewManager(newFakeEngine(), Config{}, nil)
	assert.Equal(t, StateNotFound, m.Status(ctx, "k"))

	eng := newFakeEngine()
	eng.findErr = errors.New("connection refused")
	m = NewManager(eng, Config{}, nil)
	assert.Equal(t, StateError, m.Status(ctx, "k"))
}
