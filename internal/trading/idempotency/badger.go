package idempotency

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// BadgerFilter keeps admitted keys in an embedded BadgerDB so admission
// survives a process restart.
type BadgerFilter struct {
	db     *badger.DB
	logger *zap.Logger
}

// NewBadgerFilter opens (or creates) a key store at path. An empty path
// opens an in-memory store.
func NewBadgerFilter(path string, logger *zap.Logger) (*BadgerFilter, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil // disable internal logging
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}
	return &BadgerFilter{db: db, logger: logger.Named("idempotency.badger")}, nil
}

// Admit implements Filter. Two transactions racing on the same key conflict
// at commit; the loser gets ErrConflict and is refused as a duplicate.
func (f *BadgerFilter) Admit(key string) (bool, error) {
	err := f.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return errDuplicate
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set([]byte(key), []byte(strconv.FormatInt(time.Now().UnixNano(), 10)))
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errDuplicate), errors.Is(err, badger.ErrConflict):
		return false, nil
	default:
		f.logger.Error("failed to admit idempotency key", zap.String("key", key), zap.Error(err))
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

var errDuplicate = errors.New("duplicate key")

// Release implements Filter.
func (f *BadgerFilter) Release(key string) {
	err := f.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		f.logger.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(err))
	}
}

// Close closes the underlying BadgerDB.
func (f *BadgerFilter) Close() error {
	return f.db.Close()
}
