package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/courier/container"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
)

// Prober opens and immediately closes a real connection to a broker.
type Prober interface {
	Probe(ctx context.Context, d *Descriptor) error
}

// Containers is the part of the container lifecycle manager the registry drives.
type Containers interface {
	Provision(ctx context.Context, spec container.Spec) container.Result
	Teardown(ctx context.Context, key string) bool
	Status(ctx context.Context, key string) container.State
}

// Defaults fill unset connection fields on registration.
type Defaults struct {
	Host           string
	Port           int
	ManagementPort int
	Username       string
	Password       string
	VirtualHost    string
	Params         map[string]string
}

// Config configures one registry instance.
type Config struct {
	Family     Family
	PrimaryKey string
	Defaults   Defaults
	Readiness  Readiness

	// Prober backs TestConnection. Without one every test reports false.
	Prober Prober

	// Containers is required for container-managed descriptors.
	Containers Containers

	// OnHealth, if set, observes every recorded health status.
	OnHealth func(family Family, status Health)
}

// Input is the registration payload for a descriptor.
type Input struct {
	Key            string            `json:"brokerKey"`
	Host           string            `json:"host,omitempty"`
	Port           int               `json:"port,omitempty"`
	ManagementPort int               `json:"managementPort,omitempty"`
	Username       string            `json:"username,omitempty"`
	Password       string            `json:"password,omitempty"`
	VirtualHost    string            `json:"virtualHost,omitempty"`
	Primary        bool              `json:"isPrimary,omitempty"`
	Params         map[string]string `json:"params,omitempty"`

	// Set by Create when the broker runs in a provisioned container.
	ContainerManaged bool   `json:"-"`
	ContainerID      string `json:"-"`
	ContainerName    string `json:"-"`
}

// Registry is the CRUD and health surface over the descriptors of one family.
// Invariants (unique active keys, a protected primary) are enforced here with
// read-then-write checks; broker registration is an administrative path, so
// a race between two concurrent registrations is accepted.
type Registry struct {
	store  Store
	config Config
	logger *slog.Logger
}

// NewRegistry creates a registry for cfg.Family.
func NewRegistry(store Store, cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Readiness = cfg.Readiness.withDefaults()
	return &Registry{
		store:  store,
		config: cfg,
		logger: logger.With("family", string(cfg.Family)),
	}
}

// Family returns the family this registry manages.
func (r *Registry) Family() Family { return r.config.Family }

// PrimaryKey returns the configured primary broker key.
func (r *Registry) PrimaryKey() string { return r.config.PrimaryKey }

// FindActiveByKey returns the active descriptor for key. When none exists the
// error is a *NotFoundError naming the keys that are available.
func (r *Registry) FindActiveByKey(ctx context.Context, key string) (*Descriptor, error) {
	d, err := r.store.GetBroker(ctx, r.config.Family, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("broker: get %s: %w", key, err)
	}
	if d == nil || !d.Active {
		available, listErr := r.AvailableKeys(ctx)
		if listErr != nil {
			r.logger.WarnContext(ctx, "list available brokers failed", "error", listErr)
		}
		return nil, &NotFoundError{Family: r.config.Family, Key: key, Available: available}
	}
	return d, nil
}

// Register persists a new active descriptor with health UNKNOWN. A soft-deleted
// descriptor with the same key is replaced.
func (r *Registry) Register(ctx context.Context, in Input) (*Descriptor, error) {
	if !ValidKey(in.Key) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, in.Key)
	}

	existing, err := r.store.GetBroker(ctx, r.config.Family, in.Key)
	switch {
	case err == nil && existing.Active:
		return nil, fmt.Errorf("%w: %s", ErrConflict, in.Key)
	case err == nil:
		if delErr := r.store.DeleteBroker(ctx, existing.ID); delErr != nil {
			return nil, fmt.Errorf("broker: replace inactive %s: %w", in.Key, delErr)
		}
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("broker: get %s: %w", in.Key, err)
	}

	if in.Primary {
		if current, primaryErr := r.Primary(ctx); primaryErr == nil && current.Key != in.Key {
			return nil, fmt.Errorf("%w: primary already set to %s", ErrConflict, current.Key)
		}
	}

	d := r.descriptorFromInput(in)
	if err := r.store.CreateBroker(ctx, d); err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "broker registered",
		"broker_key", d.Key,
		"address", d.Address(),
		"primary", d.Primary,
		"container_managed", d.ContainerManaged,
	)
	return d, nil
}

func (r *Registry) descriptorFromInput(in Input) *Descriptor {
	def := r.config.Defaults
	d := &Descriptor{
		Entity:           entity.New(),
		ID:               id.NewBrokerID(),
		Family:           r.config.Family,
		Key:              in.Key,
		Host:             firstString(in.Host, def.Host),
		Port:             firstInt(in.Port, def.Port),
		ManagementPort:   firstInt(in.ManagementPort, def.ManagementPort),
		Username:         firstString(in.Username, def.Username),
		Password:         firstString(in.Password, def.Password),
		VirtualHost:      firstString(in.VirtualHost, def.VirtualHost),
		Primary:          in.Primary,
		Active:           true,
		ContainerManaged: in.ContainerManaged,
		ContainerID:      in.ContainerID,
		ContainerName:    in.ContainerName,
		Health:           HealthUnknown,
		Params:           make(map[string]string, len(def.Params)+len(in.Params)),
	}
	for k, v := range def.Params {
		d.Params[k] = v
	}
	for k, v := range in.Params {
		d.Params[k] = v
	}
	return d
}

// Deactivate removes key from service. The primary broker is refused before
// any side effect. Container-managed descriptors are hard-deleted after their
// container is torn down; manual ones are soft-deleted.
func (r *Registry) Deactivate(ctx context.Context, key string) error {
	if key == r.config.PrimaryKey {
		return fmt.Errorf("%w: %s", ErrPrimaryProtected, key)
	}

	d, err := r.FindActiveByKey(ctx, key)
	if err != nil {
		return err
	}
	if d.Primary {
		return fmt.Errorf("%w: %s", ErrPrimaryProtected, key)
	}

	if d.ContainerManaged {
		return r.hardDelete(ctx, d)
	}
	return r.softDelete(ctx, d)
}

// softDelete marks a manual descriptor inactive and keeps the row.
func (r *Registry) softDelete(ctx context.Context, d *Descriptor) error {
	d.Active = false
	d.Touch()
	if err := r.store.UpdateBroker(ctx, d); err != nil {
		return fmt.Errorf("broker: deactivate %s: %w", d.Key, err)
	}
	r.logger.InfoContext(ctx, "broker deactivated", "broker_key", d.Key)
	return nil
}

// hardDelete tears down the descriptor's container and deletes the row. A
// container that is already gone does not block deletion.
func (r *Registry) hardDelete(ctx context.Context, d *Descriptor) error {
	if r.config.Containers == nil {
		return fmt.Errorf("broker: %s is container-managed but no container manager is configured", d.Key)
	}
	if !r.config.Containers.Teardown(ctx, d.Key) {
		r.logger.WarnContext(ctx, "container teardown incomplete",
			"broker_key", d.Key, "container", d.ContainerName)
	}
	if err := r.store.DeleteBroker(ctx, d.ID); err != nil {
		return fmt.Errorf("broker: delete %s: %w", d.Key, err)
	}
	r.logger.InfoContext(ctx, "broker removed", "broker_key", d.Key, "container", d.ContainerName)
	return nil
}

// UpdateHealth records a health probe result. A key that no longer exists is
// ignored, so probes racing a deletion never resurrect a descriptor.
func (r *Registry) UpdateHealth(ctx context.Context, key string, status Health) error {
	d, err := r.store.GetBroker(ctx, r.config.Family, key)
	if errors.Is(err, ErrNotFound) {
		r.logger.DebugContext(ctx, "health update for unknown broker ignored", "broker_key", key)
		return nil
	}
	if err != nil {
		return fmt.Errorf("broker: get %s: %w", key, err)
	}

	now := time.Now().UTC()
	d.Health = status
	d.LastHealthCheck = &now
	d.Touch()
	if err := r.store.UpdateBroker(ctx, d); err != nil {
		return err
	}
	if r.config.OnHealth != nil {
		r.config.OnHealth(r.config.Family, status)
	}
	return nil
}

// TestConnection opens and closes a real connection to d. All failures are
// reported as false.
func (r *Registry) TestConnection(ctx context.Context, d *Descriptor) bool {
	if r.config.Prober == nil || d == nil {
		return false
	}
	if err := r.config.Prober.Probe(ctx, d); err != nil {
		r.logger.DebugContext(ctx, "broker connection test failed",
			"broker_key", d.Key, "address", d.Address(), "error", err)
		return false
	}
	return true
}

// CheckAvailability tests the active broker for key and records the outcome
// as ONLINE or OFFLINE.
func (r *Registry) CheckAvailability(ctx context.Context, key string) (bool, error) {
	d, err := r.FindActiveByKey(ctx, key)
	if err != nil {
		return false, err
	}

	ok := r.TestConnection(ctx, d)
	status := HealthOffline
	if ok {
		status = HealthOnline
	}
	if err := r.UpdateHealth(ctx, key, status); err != nil {
		r.logger.WarnContext(ctx, "health update failed", "broker_key", key, "error", err)
	}
	return ok, nil
}

// ListActive returns the active descriptors ordered by key.
func (r *Registry) ListActive(ctx context.Context) ([]*Descriptor, error) {
	return r.store.ListBrokers(ctx, r.config.Family, ListOpts{ActiveOnly: true})
}

// AvailableKeys returns the keys of the active descriptors.
func (r *Registry) AvailableKeys(ctx context.Context) ([]string, error) {
	list, err := r.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return keysOf(list), nil
}

// Statistics counts active descriptors by management mode and health.
func (r *Registry) Statistics(ctx context.Context) (*Statistics, error) {
	list, err := r.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Statistics{TotalBrokers: len(list)}
	for _, d := range list {
		if d.ContainerManaged {
			stats.DockerManagedBrokers++
		} else {
			stats.ManualBrokers++
		}
		if d.Health == HealthOnline {
			stats.OnlineBrokers++
		}
	}
	return stats, nil
}

// Primary returns the active primary descriptor.
func (r *Registry) Primary(ctx context.Context) (*Descriptor, error) {
	list, err := r.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range list {
		if d.Primary {
			return d, nil
		}
	}
	return nil, &NotFoundError{Family: r.config.Family, Key: "primary", Available: keysOf(list)}
}

// EnsurePrimary seeds the configured primary descriptor when it is missing and
// re-asserts the primary flag when it exists.
func (r *Registry) EnsurePrimary(ctx context.Context, in Input) (*Descriptor, error) {
	if in.Key == "" {
		in.Key = r.config.PrimaryKey
	}
	in.Primary = true

	d, err := r.store.GetBroker(ctx, r.config.Family, in.Key)
	if errors.Is(err, ErrNotFound) {
		return r.Register(ctx, in)
	}
	if err != nil {
		return nil, err
	}
	if d.Active && d.Primary {
		return d, nil
	}

	d.Active = true
	d.Primary = true
	d.Touch()
	if err := r.store.UpdateBroker(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func keysOf(list []*Descriptor) []string {
	keys := make([]string, 0, len(list))
	for _, d := range list {
		keys = append(keys, d.Key)
	}
	return keys
}

func firstString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func firstInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
