// Package archive is the entry point to fixture document storage. Callers
// depend on archive.Store; the backends under internal/infra/archive are
// reached only through this package.
package archive

import (
	"context"
	"fmt"
	"os"

	"persistkit/internal/archive/core"
	"persistkit/internal/infra/archive/fs"
	memorystore "persistkit/internal/infra/archive/memory"
	infraS3 "persistkit/internal/infra/archive/s3"
)

type (
	Store  = core.Store
	Info   = core.Info
	Driver = core.Driver
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrNotFound = core.ErrNotFound
	ErrExists   = core.ErrExists
)

// S3Config re-exports the S3 backend configuration.
type S3Config = infraS3.Config

// Open selects an archive implementation using environment variables.
//
//	PERSISTKIT_ARCHIVE_DRIVER: fs|s3|memory (default fs)
//	PERSISTKIT_ARCHIVE_FS_ROOT: directory root when driver=fs (default ./fixtures)
//	(S3 specific variables documented in internal/infra/archive/s3)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("PERSISTKIT_ARCHIVE_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(os.Getenv("PERSISTKIT_ARCHIVE_FS_ROOT"))
	case DriverS3:
		return infraS3.OpenFromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown archive driver %s", driver)
	}
}

// NewFilesystem returns a filesystem-backed archive rooted at root.
func NewFilesystem(root string) (Store, error) { return fs.New(root) }

// NewMemory returns an in-memory archive.
func NewMemory() Store { return memorystore.New() }

// NewS3 returns an S3-backed archive.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) { return infraS3.New(ctx, cfg) }

// NewMockS3ForTests exposes the fake-transport S3 archive for cross-package tests.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }
