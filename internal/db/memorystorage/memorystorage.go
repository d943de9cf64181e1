package memorystorage

import (
	"github.com/patric-chuzhbe/sessionauth/internal/db/jsondb"
)

// MemoryStorage is the document store used when neither a database nor a
// file is configured. Documents live for the lifetime of the process.
type MemoryStorage struct {
	*jsondb.JSONDB
}

func New() (*MemoryStorage, error) {
	return &MemoryStorage{
		JSONDB: jsondb.NewInMemory(),
	}, nil
}
