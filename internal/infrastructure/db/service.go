package db

import (
	"fmt"

	"github.com/tapgate/tapgate/internal/core/ports"
	badgerdb "github.com/tapgate/tapgate/internal/infrastructure/db/badger"
)

var (
	storeTypes = map[string]func(...interface{}) (ports.RepoManager, error){
		"badger": badgerdb.NewRepoManager,
	}
)

type ServiceConfig struct {
	DataStoreType   string
	DataStoreConfig []interface{}
}

// NewService builds the repo manager for the configured store type.
func NewService(config ServiceConfig) (ports.RepoManager, error) {
	factory, ok := storeTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid data store type: %s", config.DataStoreType)
	}

	repoManager, err := factory(config.DataStoreConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to create data store: %w", err)
	}
	return repoManager, nil
}
