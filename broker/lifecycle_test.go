package broker_test

import (
	"errors"
	"testing"

	"github.com/xraph/courier/broker"
	"github.com/xraph/courier/container"
)

func TestLifecycleCreateManual(t *testing.T) {
	prober := &fakeProber{}
	reg, _ := newRegistry(prober, nil)
	lc := broker.NewLifecycle(reg, nil)

	res, err := lc.Create(ctx(), broker.CreateInput{Key: "manual", Port: 5680, ManagementPort: 15680})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.ContainerCreated {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Broker.Health != broker.HealthOnline {
		t.Fatalf("health = %q, want ONLINE", res.Broker.Health)
	}
	if res.ManagementURL != "http://localhost:15680" {
		t.Fatalf("management URL = %q", res.ManagementURL)
	}
}

func TestLifecycleCreateOffline(t *testing.T) {
	prober := &fakeProber{err: errors.New("refused")}
	reg, _ := newRegistry(prober, nil)
	lc := broker.NewLifecycle(reg, nil)

	res, err := lc.Create(ctx(), broker.CreateInput{Key: "down"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Broker.Health != broker.HealthOffline {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestLifecycleCreateConflictSkipsProvisioning(t *testing.T) {
	containers := &fakeContainers{}
	reg, _ := newRegistry(nil, containers)
	lc := broker.NewLifecycle(reg, nil)

	_, _ = reg.Register(ctx(), broker.Input{Key: "taken"})

	_, err := lc.Create(ctx(), broker.CreateInput{Key: "taken", AutoCreate: true})
	if !errors.Is(err, broker.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if len(containers.specs) != 0 {
		t.Fatal("no container should be provisioned on conflict")
	}
}

func TestLifecycleCreateWithContainer(t *testing.T) {
	// The broker needs two probes to come up.
	prober := &fakeProber{failures: 2}
	containers := &fakeContainers{result: container.Result{
		Success: true,
		Handle: &container.Handle{
			ID:             "abc123",
			Name:           "rabbitmq-auto",
			Host:           "localhost",
			Port:           5690,
			ManagementPort: 15690,
			Username:       "guest",
			Password:       "guest",
			VirtualHost:    "/",
			State:          container.StateRunning,
		},
	}}
	reg, _ := newRegistry(prober, containers)
	lc := broker.NewLifecycle(reg, nil)

	res, err := lc.Create(ctx(), broker.CreateInput{Key: "auto", AutoCreate: true, MemoryLimitMB: 256})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || !res.ContainerCreated {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !res.Broker.ContainerManaged || res.Broker.ContainerID != "abc123" || res.Broker.Port != 5690 {
		t.Fatalf("descriptor not populated from handle: %+v", res.Broker)
	}
	if res.Broker.Health != broker.HealthOnline {
		t.Fatalf("health = %q, want ONLINE", res.Broker.Health)
	}
	if len(containers.specs) != 1 || containers.specs[0].MemoryMB != 256 {
		t.Fatalf("provision specs = %+v", containers.specs)
	}
	if prober.calls < 3 {
		t.Fatalf("expected readiness polling, got %d probes", prober.calls)
	}
}

func TestLifecycleCreateProvisionFailure(t *testing.T) {
	containers := &fakeContainers{result: container.Result{Error: "port is already allocated"}}
	reg, _ := newRegistry(nil, containers)
	lc := broker.NewLifecycle(reg, nil)

	res, err := lc.Create(ctx(), broker.CreateInput{Key: "broken", AutoCreate: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Broker != nil {
		t.Fatalf("expected failure without descriptor: %+v", res)
	}
	if _, err := reg.FindActiveByKey(ctx(), "broken"); !errors.Is(err, broker.ErrNotFound) {
		t.Fatal("no descriptor should be stored on provisioning failure")
	}
}

func TestLifecycleCreateContainerExists(t *testing.T) {
	containers := &fakeContainers{result: container.Result{Error: "exists", Err: container.ErrExists}}
	reg, _ := newRegistry(nil, containers)
	lc := broker.NewLifecycle(reg, nil)

	_, err := lc.Create(ctx(), broker.CreateInput{Key: "dup", AutoCreate: true})
	if !errors.Is(err, broker.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestLifecycleListDetailed(t *testing.T) {
	containers := &fakeContainers{state: container.StateStopped}
	reg, _ := newRegistry(nil, containers)
	lc := broker.NewLifecycle(reg, nil)

	_, _ = reg.Register(ctx(), broker.Input{Key: "m", ContainerManaged: true})
	_, _ = reg.Register(ctx(), broker.Input{Key: "n"})

	listing, err := lc.ListDetailed(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if len(listing.Brokers) != 2 {
		t.Fatalf("brokers = %d, want 2", len(listing.Brokers))
	}
	if listing.Brokers[0].ContainerState != container.StateStopped {
		t.Fatalf("managed broker state = %q", listing.Brokers[0].ContainerState)
	}
	if listing.Brokers[1].ContainerState != "" {
		t.Fatalf("manual broker should have no container state, got %q", listing.Brokers[1].ContainerState)
	}
	if listing.Statistics.TotalBrokers != 2 {
		t.Fatalf("statistics = %+v", listing.Statistics)
	}
}
