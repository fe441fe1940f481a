package models

import (
	"errors"

	"gorm.io/gorm"

	"github.com/waiverly/billing-engine/config/database"
	"github.com/waiverly/billing-engine/utils"
)

type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{
		db: db,
	}
}

// Migrate creates or updates the subscriptions table. The forms, submissions
// and tenants tables are owned by other modules and are never migrated here.
func (store *Store) Migrate() error {
	return store.db.Connection.AutoMigrate(&Subscription{})
}

// IsNotFound reports whether a failed result is a plain record-not-found,
// which callers treat as an expected condition rather than a failure.
func IsNotFound(r utils.AnyResult) bool {
	return r.Failure() && errors.Is(r.Error(), gorm.ErrRecordNotFound)
}
