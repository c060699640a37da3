package server

import (
	"errors"
	"fmt"

	"github.com/oshokin/flag-arbiter/internal/config"
	repo "github.com/oshokin/flag-arbiter/internal/repository/flags"
)

// errUnknownStorage is returned for storage names other than file and sqlite.
var errUnknownStorage = errors.New("unknown storage backend")

// openRepository returns the configured flag repository and its close function.
func openRepository(storage, path string) (repo.Repository, func() error, error) {
	switch storage {
	case config.StorageSQLite:
		sqliteRepo, err := repo.NewSQLiteRepository(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite storage: %w", err)
		}

		return sqliteRepo, sqliteRepo.Close, nil
	case config.StorageFile, "":
		return repo.NewFileRepository(path), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", errUnknownStorage, storage)
	}
}
