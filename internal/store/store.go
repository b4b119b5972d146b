// Package store persists whole JSON documents keyed by a logical kind.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Document kinds used by the relay.
const (
	KindAccessLists = "users_lists"
	KindLobby       = "persistent"
)

// Backend names accepted by Open.
const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
)

// ErrNotFound is returned by Load when no document of that kind was saved yet.
var ErrNotFound = errors.New("document not found")

// Store loads and saves whole documents. Implementations are safe for
// concurrent use.
type Store interface {
	Load(ctx context.Context, kind string, v any) error
	Save(ctx context.Context, kind string, v any) error
	Close() error
}

// Open returns the backend named by driver rooted at dataPath.
func Open(driver, dataPath string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverJSON:
		return NewFileStore(dataPath)
	case DriverSQLite:
		return NewSQLiteStore(filepath.Join(dataPath, "communa.db"))
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func validKind(kind string) error {
	if kind == "" || strings.ContainsAny(kind, `/\`) || strings.HasPrefix(kind, ".") {
		return fmt.Errorf("invalid document kind %q", kind)
	}
	return nil
}
