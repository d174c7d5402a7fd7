package broker_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/courier/broker"
	"github.com/xraph/courier/container"
	"github.com/xraph/courier/store/memory"
)

func ctx() context.Context { return context.Background() }

type fakeProber struct {
	mu       sync.Mutex
	err      error
	calls    int
	failures int // the first n probes fail before err applies
}

func (p *fakeProber) Probe(_ context.Context, _ *broker.Descriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return errors.New("connection refused")
	}
	return p.err
}

type fakeContainers struct {
	result   container.Result
	teardown bool
	state    container.State
	specs    []container.Spec
	tornDown []string
}

func (f *fakeContainers) Provision(_ context.Context, spec container.Spec) container.Result {
	f.specs = append(f.specs, spec)
	return f.result
}

func (f *fakeContainers) Teardown(_ context.Context, key string) bool {
	f.tornDown = append(f.tornDown, key)
	return f.teardown
}

func (f *fakeContainers) Status(_ context.Context, _ string) container.State {
	return f.state
}

func newRegistry(prober broker.Prober, containers broker.Containers) (*broker.Registry, *memory.Store) {
	s := memory.New()
	cfg := broker.Config{
		Family:     broker.FamilyQueue,
		PrimaryKey: "rabbitmq-local",
		Defaults: broker.Defaults{
			Host:           "localhost",
			Port:           5672,
			ManagementPort: 15672,
			Username:       "guest",
			Password:       "guest",
			VirtualHost:    "/",
		},
		Readiness: broker.Readiness{
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
			MaxElapsed:      50 * time.Millisecond,
		},
		Prober:     prober,
		Containers: containers,
	}
	return broker.NewRegistry(s, cfg, nil), s
}

func TestRegistryRegister(t *testing.T) {
	reg, _ := newRegistry(nil, nil)

	d, err := reg.Register(ctx(), broker.Input{Key: "orders", Port: 5673})
	if err != nil {
		t.Fatal(err)
	}
	if d.ID.String() == "" {
		t.Fatal("expected non-empty ID")
	}
	if d.Health != broker.HealthUnknown {
		t.Fatalf("health = %q, want UNKNOWN", d.Health)
	}
	if d.Host != "localhost" || d.Port != 5673 || d.Username != "guest" {
		t.Fatalf("defaults not applied: %+v", d)
	}
	if !d.Active {
		t.Fatal("expected active descriptor")
	}

	if _, err := reg.Register(ctx(), broker.Input{Key: "orders"}); !errors.Is(err, broker.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRegistryRegisterInvalidKey(t *testing.T) {
	reg, _ := newRegistry(nil, nil)

	for _, key := range []string{"", "-leading", "has space", "slash/key"} {
		if _, err := reg.Register(ctx(), broker.Input{Key: key}); !errors.Is(err, broker.ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestRegistryRegisterSecondPrimary(t *testing.T) {
	reg, _ := newRegistry(nil, nil)

	if _, err := reg.EnsurePrimary(ctx(), broker.Input{}); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Register(ctx(), broker.Input{Key: "other", Primary: true}); !errors.Is(err, broker.ErrConflict) {
		t.Fatalf("expected ErrConflict for second primary, got %v", err)
	}
}

func TestRegistryFindActiveByKeyListsAvailable(t *testing.T) {
	reg, _ := newRegistry(nil, nil)

	_, _ = reg.Register(ctx(), broker.Input{Key: "alpha"})
	_, _ = reg.Register(ctx(), broker.Input{Key: "beta"})

	_, err := reg.FindActiveByKey(ctx(), "gamma")
	if !errors.Is(err, broker.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var nf *broker.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected *NotFoundError, got %T", err)
	}
	if len(nf.Available) != 2 || nf.Available[0] != "alpha" || nf.Available[1] != "beta" {
		t.Fatalf("available = %v", nf.Available)
	}
	if !strings.Contains(err.Error(), "alpha, beta") {
		t.Fatalf("message should enumerate keys: %q", err.Error())
	}
}

func TestRegistryDeactivatePrimary(t *testing.T) {
	containers := &fakeContainers{teardown: true}
	reg, _ := newRegistry(nil, containers)

	if _, err := reg.EnsurePrimary(ctx(), broker.Input{}); err != nil {
		t.Fatal(err)
	}

	err := reg.Deactivate(ctx(), "rabbitmq-local")
	if !errors.Is(err, broker.ErrPrimaryProtected) {
		t.Fatalf("expected ErrPrimaryProtected, got %v", err)
	}
	if len(containers.tornDown) != 0 {
		t.Fatal("primary deactivation must not touch containers")
	}
	if _, err := reg.FindActiveByKey(ctx(), "rabbitmq-local"); err != nil {
		t.Fatalf("primary should remain active: %v", err)
	}
}

func TestRegistrySoftDelete(t *testing.T) {
	reg, s := newRegistry(nil, nil)

	_, _ = reg.Register(ctx(), broker.Input{Key: "manual"})
	if err := reg.Deactivate(ctx(), "manual"); err != nil {
		t.Fatal(err)
	}

	if _, err := reg.FindActiveByKey(ctx(), "manual"); !errors.Is(err, broker.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after soft delete, got %v", err)
	}
	d, err := s.GetBroker(ctx(), broker.FamilyQueue, "manual")
	if err != nil {
		t.Fatalf("soft-deleted row should remain: %v", err)
	}
	if d.Active {
		t.Fatal("expected inactive row")
	}

	// The key can be registered again.
	again, err := reg.Register(ctx(), broker.Input{Key: "manual"})
	if err != nil {
		t.Fatal(err)
	}
	if again.ID == d.ID {
		t.Fatal("expected the inactive descriptor to be replaced")
	}
}

func TestRegistryHardDelete(t *testing.T) {
	containers := &fakeContainers{teardown: false}
	reg, s := newRegistry(nil, containers)

	_, err := reg.Register(ctx(), broker.Input{Key: "managed", ContainerManaged: true, ContainerName: "rabbitmq-managed"})
	if err != nil {
		t.Fatal(err)
	}

	// A missing container does not block deletion.
	if err := reg.Deactivate(ctx(), "managed"); err != nil {
		t.Fatal(err)
	}
	if len(containers.tornDown) != 1 || containers.tornDown[0] != "managed" {
		t.Fatalf("teardown calls = %v", containers.tornDown)
	}
	if _, err := s.GetBroker(ctx(), broker.FamilyQueue, "managed"); !errors.Is(err, broker.ErrNotFound) {
		t.Fatalf("expected row to be deleted, got %v", err)
	}
}

func TestRegistryDeactivateUnknown(t *testing.T) {
	reg, _ := newRegistry(nil, nil)
	if err := reg.Deactivate(ctx(), "ghost"); !errors.Is(err, broker.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistryUpdateHealth(t *testing.T) {
	reg, store := newRegistry(nil, nil)
	_, _ = reg.Register(ctx(), broker.Input{Key: "h"})

	if err := reg.UpdateHealth(ctx(), "h", broker.HealthError); err != nil {
		t.Fatal(err)
	}
	d, _ := reg.FindActiveByKey(ctx(), "h")
	if d.Health != broker.HealthError {
		t.Fatalf("health = %q, want ERROR", d.Health)
	}
	if d.LastHealthCheck == nil {
		t.Fatal("expected health timestamp")
	}

	// Unknown keys are ignored and never create a descriptor.
	before, _ := reg.AvailableKeys(ctx())
	if err := reg.UpdateHealth(ctx(), "gone", broker.HealthOnline); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	after, _ := reg.AvailableKeys(ctx())
	if len(after) != len(before) || len(after) != 1 {
		t.Fatalf("keys before %v, after %v", before, after)
	}
	if _, err := store.GetBroker(ctx(), broker.FamilyQueue, "gone"); !errors.Is(err, broker.ErrNotFound) {
		t.Fatalf("expected no stored descriptor for gone, got %v", err)
	}
}

func TestRegistryCheckAvailability(t *testing.T) {
	prober := &fakeProber{}
	reg, _ := newRegistry(prober, nil)
	_, _ = reg.Register(ctx(), broker.Input{Key: "up"})

	ok, err := reg.CheckAvailability(ctx(), "up")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	d, _ := reg.FindActiveByKey(ctx(), "up")
	if d.Health != broker.HealthOnline {
		t.Fatalf("health = %q, want ONLINE", d.Health)
	}

	prober.err = errors.New("refused")
	ok, err = reg.CheckAvailability(ctx(), "up")
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	d, _ = reg.FindActiveByKey(ctx(), "up")
	if d.Health != broker.HealthOffline {
		t.Fatalf("health = %q, want OFFLINE", d.Health)
	}
}

func TestRegistryTestConnectionWithoutProber(t *testing.T) {
	reg, _ := newRegistry(nil, nil)
	d, _ := reg.Register(ctx(), broker.Input{Key: "p"})
	if reg.TestConnection(ctx(), d) {
		t.Fatal("expected false without a prober")
	}
}

func TestRegistryStatistics(t *testing.T) {
	reg, _ := newRegistry(nil, &fakeContainers{teardown: true})

	_, _ = reg.Register(ctx(), broker.Input{Key: "a"})
	_, _ = reg.Register(ctx(), broker.Input{Key: "b", ContainerManaged: true})
	_, _ = reg.Register(ctx(), broker.Input{Key: "c"})
	_ = reg.UpdateHealth(ctx(), "a", broker.HealthOnline)
	_ = reg.Deactivate(ctx(), "c")

	stats, err := reg.Statistics(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalBrokers != 2 || stats.DockerManagedBrokers != 1 || stats.ManualBrokers != 1 || stats.OnlineBrokers != 1 {
		t.Fatalf("unexpected statistics: %+v", stats)
	}
}

func TestRegistryEnsurePrimary(t *testing.T) {
	reg, _ := newRegistry(nil, nil)

	first, err := reg.EnsurePrimary(ctx(), broker.Input{})
	if err != nil {
		t.Fatal(err)
	}
	if first.Key != "rabbitmq-local" || !first.Primary {
		t.Fatalf("unexpected primary: %+v", first)
	}

	second, err := reg.EnsurePrimary(ctx(), broker.Input{})
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Fatal("EnsurePrimary should be idempotent")
	}

	p, err := reg.Primary(ctx())
	if err != nil || p.Key != "rabbitmq-local" {
		t.Fatalf("Primary() = %v, %v", p, err)
	}
}
