// Package migration keeps a registry of named schema migrations and applies
// the pending ones in name order, recording each in schema_migrations.
package migration

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MigrationFunc changes the schema. It runs inside a transaction.
type MigrationFunc func(db *gorm.DB) error

// SchemaMigration records an applied migration.
type SchemaMigration struct {
	Name      string    `gorm:"primaryKey;size:100"`
	AppliedAt time.Time `gorm:"not null"`
}

func (SchemaMigration) TableName() string {
	return "schema_migrations"
}

// Registry holds migrations by name.
type Registry struct {
	mu         sync.Mutex
	migrations map[string]MigrationFunc
}

func NewRegistry() *Registry {
	return &Registry{migrations: make(map[string]MigrationFunc)}
}

// Default is the registry the migrations package registers into.
var Default = NewRegistry()

// Register adds a migration to the default registry.
func Register(name string, fn MigrationFunc) error {
	return Default.Register(name, fn)
}

// Run applies the pending migrations of the default registry.
func Run(ctx context.Context, db *gorm.DB, log *zap.Logger) ([]string, error) {
	return Default.Run(ctx, db, log)
}

func (r *Registry) Register(name string, fn MigrationFunc) error {
	if name == "" || fn == nil {
		return errors.New("migration needs a name and a function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.migrations[name]; ok {
		return errors.Errorf("migration %s already registered", name)
	}
	r.migrations[name] = fn
	return nil
}

// Names returns the registered migration names in the order they run.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.migrations))
	for name := range r.migrations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run applies every migration not yet recorded in schema_migrations and
// returns the names it applied.
func (r *Registry) Run(ctx context.Context, db *gorm.DB, log *zap.Logger) ([]string, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db = db.WithContext(ctx)

	if err := db.AutoMigrate(&SchemaMigration{}); err != nil {
		return nil, errors.Wrap(err, "create schema_migrations")
	}

	var done []SchemaMigration
	if err := db.Find(&done).Error; err != nil {
		return nil, errors.Wrap(err, "read schema_migrations")
	}
	applied := make(map[string]bool, len(done))
	for _, m := range done {
		applied[m.Name] = true
	}

	var ran []string
	for _, name := range r.Names() {
		if applied[name] {
			continue
		}
		r.mu.Lock()
		fn := r.migrations[name]
		r.mu.Unlock()

		err := db.Transaction(func(tx *gorm.DB) error {
			if err := fn(tx); err != nil {
				return err
			}
			return tx.Create(&SchemaMigration{Name: name, AppliedAt: time.Now().UTC()}).Error
		})
		if err != nil {
			return ran, errors.Wrapf(err, "migration %s", name)
		}
		log.Info("applied migration", zap.String("name", name))
		ran = append(ran, name)
	}
	return ran, nil
}
