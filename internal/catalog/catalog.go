// Package catalog implements the stream catalog: CRUD over StreamConfig,
// name validation, and startup rebuild from the object store's persisted
// <stream>/.stream/config objects.
package catalog

import (
	"context"
	"encoding/json"
	"io"
	"regexp"
	"sync"
	"time"

	"github.com/stratumlake/stratum/internal/apperrors"
	"github.com/stratumlake/stratum/internal/model"
	"github.com/stratumlake/stratum/internal/objstore"
)

var nameRe = regexp.MustCompile(`^[a-z0-9-]{1,64}$`)

var reservedNames = map[string]bool{
	".stream": true,
	".stratum": true,
}

// ValidateName checks a stream name against the naming rule: lowercase
// alphanumeric plus '-', 1-64 chars, not reserved.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return apperrors.NewSchemaError(apperrors.CodeSchemaInvalid, "invalid stream name: "+name)
	}
	if reservedNames[name] {
		return apperrors.NewSchemaError(apperrors.CodeSchemaInvalid, "stream name is reserved: "+name)
	}
	return nil
}

// Catalog is the in-memory map from stream name to StreamConfig, mirrored
// durably as individual objects under <stream>/.stream/config.
type Catalog struct {
	store objstore.Store

	mu      sync.RWMutex
	streams map[string]model.StreamConfig
}

// New creates an empty Catalog backed by store.
func New(store objstore.Store) *Catalog {
	return &Catalog{store: store, streams: make(map[string]model.StreamConfig)}
}

// Create registers a new stream. Returns ErrAlreadyExists if the name is taken.
func (c *Catalog) Create(ctx context.Context, cfg model.StreamConfig) error {
	if err := ValidateName(cfg.Name); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if _, exists := c.streams[cfg.Name]; exists {
		c.mu.Unlock()
		return objstore.ErrAlreadyExists
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now().UTC()
	}
	c.streams[cfg.Name] = cfg
	c.mu.Unlock()

	return c.persist(ctx, cfg)
}

// Get returns the StreamConfig for name.
func (c *Catalog) Get(name string) (model.StreamConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.streams[name]
	return cfg, ok
}

// List returns every known StreamConfig.
func (c *Catalog) List() []model.StreamConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.StreamConfig, 0, len(c.streams))
	for _, cfg := range c.streams {
		out = append(out, cfg)
	}
	return out
}

// Delete removes a stream from the catalog and from object storage.
func (c *Catalog) Delete(ctx context.Context, name string) error {
	c.mu.Lock()
	delete(c.streams, name)
	c.mu.Unlock()
	return c.store.Delete(ctx, configKey(name))
}

// UpdateRetention applies a new retention policy to an existing stream.
func (c *Catalog) UpdateRetention(ctx context.Context, name string, policy model.RetentionPolicy) error {
	c.mu.Lock()
	cfg, ok := c.streams[name]
	if !ok {
		c.mu.Unlock()
		return apperrors.NewSchemaError(apperrors.CodeSchemaInvalid, "unknown stream: "+name)
	}
	cfg.Retention = policy
	c.streams[name] = cfg
	c.mu.Unlock()

	return c.persist(ctx, cfg)
}

// AddCustomPartitionFields appends custom partition fields. Only valid
// while the stream is empty (FirstEventAt is nil) -- once records have
// landed, changing the partition key would split a stream's history
// across two incompatible layouts.
func (c *Catalog) AddCustomPartitionFields(ctx context.Context, name string, fields []string) error {
	c.mu.Lock()
	cfg, ok := c.streams[name]
	if !ok {
		c.mu.Unlock()
		return apperrors.NewSchemaError(apperrors.CodeSchemaInvalid, "unknown stream: "+name)
	}
	if cfg.FirstEventAt != nil {
		c.mu.Unlock()
		return apperrors.NewSchemaError(apperrors.CodeSchemaInvalid, "cannot add custom partition fields after first event")
	}
	cfg.CustomPartitionFields = append(cfg.CustomPartitionFields, fields...)
	if err := cfg.Validate(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.streams[name] = cfg
	c.mu.Unlock()

	return c.persist(ctx, cfg)
}

// MarkFirstEvent records the first ingest time for a stream, if not already set.
func (c *Catalog) MarkFirstEvent(ctx context.Context, name string, at time.Time) error {
	c.mu.Lock()
	cfg, ok := c.streams[name]
	if !ok {
		c.mu.Unlock()
		return apperrors.NewSchemaError(apperrors.CodeSchemaInvalid, "unknown stream: "+name)
	}
	if cfg.FirstEventAt != nil {
		c.mu.Unlock()
		return nil
	}
	cfg.FirstEventAt = &at
	c.streams[name] = cfg
	c.mu.Unlock()

	return c.persist(ctx, cfg)
}

// Upsert writes cfg whether or not the stream already exists, for
// cluster-sync receivers that must accept a peer's authoritative config
// without caring which node originated it first.
func (c *Catalog) Upsert(ctx context.Context, cfg model.StreamConfig) error {
	if err := ValidateName(cfg.Name); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if cfg.CreatedAt.IsZero() {
		if existing, ok := c.streams[cfg.Name]; ok {
			cfg.CreatedAt = existing.CreatedAt
		} else {
			cfg.CreatedAt = time.Now().UTC()
		}
	}
	c.streams[cfg.Name] = cfg
	c.mu.Unlock()

	return c.persist(ctx, cfg)
}

func (c *Catalog) persist(ctx context.Context, cfg model.StreamConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return apperrors.NewSchemaError(apperrors.CodeSchemaInvalid, "failed to marshal stream config: "+err.Error())
	}
	if err := c.store.Put(ctx, configKey(cfg.Name), data); err != nil {
		return apperrors.NewObjectStoreError(apperrors.CodeObjectStoreTransient, "failed to persist stream config for "+cfg.Name, err)
	}
	return nil
}

func configKey(name string) string {
	return name + "/.stream/config"
}

// Rebuild lists every <stream>/.stream/config object in store and repopulates
// the in-memory catalog. Called once at startup.
func (c *Catalog) Rebuild(ctx context.Context) error {
	lister, err := c.store.List(ctx, "")
	if err != nil {
		return err
	}

	fresh := make(map[string]model.StreamConfig)
	for {
		key, err := lister.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if !isStreamConfigKey(key) {
			continue
		}

		data, err := c.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var cfg model.StreamConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			continue
		}
		fresh[cfg.Name] = cfg
	}

	c.mu.Lock()
	c.streams = fresh
	c.mu.Unlock()
	return nil
}

func isStreamConfigKey(key string) bool {
	const suffix = "/.stream/config"
	return len(key) > len(suffix) && key[len(key)-len(suffix):] == suffix
}
