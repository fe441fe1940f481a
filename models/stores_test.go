package models

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/waiverly/billing-engine/tests"
)

func setupStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	db, mock, cleanup := tests.SetupMockStore(t)

	return NewStore(db), mock, cleanup
}
