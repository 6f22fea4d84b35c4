package store

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/stewardlabs/steward/internal/core"
)

// Backend identifies a state store implementation.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendSQLite Backend = "sqlite"
)

// ParseBackend parses a backend name, defaulting to file for empty input.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "file", "json":
		return BackendFile, nil
	case "sqlite", "db":
		return BackendSQLite, nil
	default:
		return "", core.ErrValidation("UNKNOWN_BACKEND",
			fmt.Sprintf("unknown state backend %q (file, sqlite)", s))
	}
}

// Options configures store creation.
type Options struct {
	Clock     core.Clock
	IDSource  core.IDSource
	Validator core.ContractValidator
}

// New creates a StateStore of the given backend rooted at dir. The file
// backend uses dir directly; the SQLite backend opens dir/steward.db.
func New(backend Backend, dir string, opts Options) (core.StateStore, error) {
	switch backend {
	case BackendFile, "":
		var fileOpts []FileStoreOption
		if opts.Clock != nil {
			fileOpts = append(fileOpts, WithFileClock(opts.Clock))
		}
		if opts.IDSource != nil {
			fileOpts = append(fileOpts, WithFileIDSource(opts.IDSource))
		}
		if opts.Validator != nil {
			fileOpts = append(fileOpts, WithFileValidator(opts.Validator))
		}
		return NewFileStore(dir, fileOpts...)
	case BackendSQLite:
		var sqliteOpts []SQLiteStoreOption
		if opts.Clock != nil {
			sqliteOpts = append(sqliteOpts, WithSQLiteClock(opts.Clock))
		}
		if opts.IDSource != nil {
			sqliteOpts = append(sqliteOpts, WithSQLiteIDSource(opts.IDSource))
		}
		if opts.Validator != nil {
			sqliteOpts = append(sqliteOpts, WithSQLiteValidator(opts.Validator))
		}
		return NewSQLiteStore(filepath.Join(dir, "steward.db"), sqliteOpts...)
	default:
		return nil, core.ErrValidation("UNKNOWN_BACKEND",
			fmt.Sprintf("unknown state backend %q", backend))
	}
}

// Probe reports which optional capabilities this build carries. The
// SQLite backend is always compiled in via the pure-Go driver.
func Probe() core.Capabilities {
	return core.Capabilities{
		SQLiteBackend: true,
		GraphEngine:   true,
	}
}
