package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	// SourceLabel tags the broker schema when registered with a migrator.
	SourceLabel = "go-integration-broker"

	rootPath = "data/sql/migrations"
)

// DialectForDriver maps a database/sql driver name to its migration dialect.
func DialectForDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite3", "sqlite":
		return DialectSQLite, nil
	case "postgres", "pgx", "pq":
		return DialectPostgres, nil
	}
	return "", fmt.Errorf("migrations: unsupported driver %q", driver)
}

// FilesystemSpec is one dialect's migration tree.
type FilesystemSpec struct {
	Dialect  string
	Path     string
	FS       fs.FS
	Versions []string
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type registerOptions struct {
	targets []string
}

type Option func(*registerOptions)

// WithValidationTargets limits registration to the named dialects.
func WithValidationTargets(targets ...string) Option {
	return func(o *registerOptions) {
		next := make([]string, 0, len(targets))
		for _, target := range targets {
			target = strings.TrimSpace(strings.ToLower(target))
			if target != "" && !slices.Contains(next, target) {
				next = append(next, target)
			}
		}
		if len(next) > 0 {
			o.targets = next
		}
	}
}

// Filesystems resolves the postgres tree at data/sql/migrations and its
// sqlite twin below it. Every up file needs a matching down file and both
// dialects must carry the same versions.
func Filesystems(root fs.FS) ([]FilesystemSpec, error) {
	if root == nil {
		return nil, fmt.Errorf("migrations: root filesystem is required")
	}
	postgres, err := loadDialect(root, DialectPostgres, rootPath)
	if err != nil {
		return nil, err
	}
	sqlite, err := loadDialect(root, DialectSQLite, rootPath+"/sqlite")
	if err != nil {
		return nil, err
	}
	if !slices.Equal(postgres.Versions, sqlite.Versions) {
		return nil, fmt.Errorf("migrations: dialect drift: postgres %v, sqlite %v", postgres.Versions, sqlite.Versions)
	}
	return []FilesystemSpec{postgres, sqlite}, nil
}

// Register hands each targeted dialect tree to registerFn. Without targets
// both dialects are registered.
func Register(ctx context.Context, root fs.FS, registerFn RegisterFunc, opts ...Option) ([]FilesystemSpec, error) {
	if registerFn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	options := registerOptions{targets: []string{DialectPostgres, DialectSQLite}}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	filesystems, err := Filesystems(root)
	if err != nil {
		return nil, err
	}
	registered := make([]FilesystemSpec, 0, len(options.targets))
	for _, spec := range filesystems {
		if !slices.Contains(options.targets, spec.Dialect) {
			continue
		}
		if err := registerFn(ctx, spec.Dialect, SourceLabel, spec.FS); err != nil {
			return registered, fmt.Errorf("migrations: register %s (%s): %w", spec.Dialect, spec.Path, err)
		}
		registered = append(registered, spec)
	}
	if len(registered) == 0 {
		return nil, fmt.Errorf("migrations: no filesystem matches targets %v", options.targets)
	}
	return registered, nil
}

func loadDialect(root fs.FS, dialect string, path string) (FilesystemSpec, error) {
	sub, err := fs.Sub(root, path)
	if err != nil {
		return FilesystemSpec{}, fmt.Errorf("migrations: resolve %s filesystem: %w", dialect, err)
	}
	ups, err := fs.Glob(sub, "*.up.sql")
	if err != nil {
		return FilesystemSpec{}, fmt.Errorf("migrations: glob %s: %w", path, err)
	}
	if len(ups) == 0 {
		return FilesystemSpec{}, fmt.Errorf("migrations: %s filesystem %q has no *.up.sql files", dialect, path)
	}
	versions := make([]string, 0, len(ups))
	for _, up := range ups {
		version := strings.TrimSuffix(up, ".up.sql")
		if _, err := fs.Stat(sub, version+".down.sql"); err != nil {
			return FilesystemSpec{}, fmt.Errorf("migrations: %s/%s has no down migration", path, up)
		}
		versions = append(versions, version)
	}
	slices.Sort(versions)
	return FilesystemSpec{Dialect: dialect, Path: path, FS: sub, Versions: versions}, nil
}
