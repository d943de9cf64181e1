// Package jsondb is a document store kept in memory and persisted to a JSON
// file when closed.
package jsondb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Collections maps collection name to key to the raw JSON document.
type Collections map[string]map[string]json.RawMessage

type JSONDB struct {
	fileName string

	mu    sync.RWMutex
	Cache Collections
}

func New(fileName string) (*JSONDB, error) {
	db := &JSONDB{
		fileName: fileName,
		Cache:    Collections{},
	}

	err := parseJSONFile(fileName, &db.Cache)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if err := writeToJSONFile(fileName, db.Cache); err != nil {
			return nil, err
		}
	}
	if db.Cache == nil {
		db.Cache = Collections{}
	}

	return db, nil
}

// NewInMemory returns a JSONDB that is never written to disk.
func NewInMemory() *JSONDB {
	return &JSONDB{Cache: Collections{}}
}

func (db *JSONDB) SetDocument(ctx context.Context, collection, key string, body any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("error marshaling document %s/%s: %w", collection, key, err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	docs, ok := db.Cache[collection]
	if !ok {
		docs = map[string]json.RawMessage{}
		db.Cache[collection] = docs
	}
	docs[key] = raw

	return nil
}

func (db *JSONDB) GetDocument(ctx context.Context, collection, key string, dst any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	db.mu.RLock()
	raw, found := db.Cache[collection][key]
	db.mu.RUnlock()
	if !found {
		return false, nil
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("error unmarshaling document %s/%s: %w", collection, key, err)
	}

	return true, nil
}

func (db *JSONDB) Ping(ctx context.Context) error {
	return nil
}

// Close writes the documents to the backing file.
func (db *JSONDB) Close() error {
	if db.fileName == "" {
		return nil
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	return writeToJSONFile(db.fileName, db.Cache)
}

func writeToJSONFile(fileName string, cache Collections) error {
	jsonData, err := json.MarshalIndent(cache, "", "\t")
	if err != nil {
		return fmt.Errorf("error marshaling JSON: %w", err)
	}

	if err := os.WriteFile(fileName, jsonData, 0644); err != nil {
		return fmt.Errorf("error writing to file: %w", err)
	}

	return nil
}

func parseJSONFile(fileName string, cache *Collections) error {
	file, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(cache)
}
