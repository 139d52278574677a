package repository

import (
	"fmt"
	"strings"
	"sync"

	"gorm.io/gorm"
)

const (
	BackendGorm   = "gorm"
	BackendMemory = "memory"
)

// Factory builds the configured Store once and hands out the same instance.
type Factory struct {
	backend string
	db      *gorm.DB
	store   Store
	err     error
	once    sync.Once
}

// NewFactory creates a new store factory. db may be nil for the memory backend.
func NewFactory(backend string, db *gorm.DB) *Factory {
	return &Factory{
		backend: strings.ToLower(strings.TrimSpace(backend)),
		db:      db,
	}
}

// GetStore returns the singleton store instance.
func (f *Factory) GetStore() (Store, error) {
	f.once.Do(func() {
		switch f.backend {
		case BackendMemory:
			f.store = NewMemoryStore()
		case BackendGorm, "":
			if f.db == nil {
				f.err = fmt.Errorf("gorm store requested without database connection")
				return
			}
			f.store = NewGormStore(f.db)
		default:
			f.err = fmt.Errorf("unknown store backend %q", f.backend)
		}
	})
	return f.store, f.err
}
