package migration

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"time"
)

// Manager orchestrates scanning, validating and applying migrations.
type Manager struct {
	fsys     fs.FS
	dir      string
	executor *Executor
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager creates a manager reading migrations from dir of fsys.
func NewManager(fsys fs.FS, dir string, executor *Executor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		fsys:     fsys,
		dir:      dir,
		executor: executor,
		logger:   logger.With("component", "migration", "dir", dir),
		now:      time.Now,
	}
}

// Run applies every pending migration in version order.
func (m *Manager) Run(ctx context.Context) error {
	started := time.Now()

	status, err := m.Status(ctx)
	if err != nil {
		return err
	}

	if status.CurrentVersion == "" {
		m.logger.InfoContext(ctx, "database schema is empty")
	} else {
		m.logger.InfoContext(ctx, "database schema version", "version", status.CurrentVersion)
	}
	if len(status.Pending) == 0 {
		m.logger.InfoContext(ctx, "database schema is up to date")
		return nil
	}

	for i, migration := range status.Pending {
		logger := m.logger.With("version", migration.Version, "file", migration.FilePath)
		logger.InfoContext(ctx, "applying migration",
			"description", migration.Description,
			"position", fmt.Sprintf("%d/%d", i+1, len(status.Pending)),
		)

		elapsed, err := m.executor.Execute(ctx, migration, m.now())
		if err != nil {
			logger.ErrorContext(ctx, "migration failed", "error", err)
			return err
		}
		logger.InfoContext(ctx, "migration applied", "duration", elapsed)
	}

	m.logger.InfoContext(ctx, "migrations completed", "count", len(status.Pending), "duration", time.Since(started))
	return nil
}

// Status reports applied and pending migrations.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return Status{}, err
	}

	available, err := Scan(m.fsys, m.dir)
	if err != nil {
		return Status{}, err
	}
	applied, err := m.executor.Applied(ctx)
	if err != nil {
		return Status{}, err
	}
	if err := validateSequence(available, applied); err != nil {
		return Status{}, err
	}

	appliedVersions := make(map[string]AppliedMigration, len(applied))
	status := Status{Applied: applied}
	maxVersion := -1
	for _, record := range applied {
		appliedVersions[record.Version] = record
		if n := versionNumber(record.Version); n > maxVersion {
			maxVersion = n
			status.CurrentVersion = record.Version
		}
	}

	for _, migration := range available {
		record, ok := appliedVersions[migration.Version]
		if !ok {
			status.Pending = append(status.Pending, migration)
			continue
		}
		if record.Checksum != "" && record.Checksum != migration.Checksum {
			m.logger.WarnContext(ctx, "applied migration changed on disk",
				"version", migration.Version,
				"file", migration.FilePath,
			)
		}
	}
	return status, nil
}

// validateSequence rejects gaps in the available versions and applied
// versions without a file.
func validateSequence(available []Migration, applied []AppliedMigration) error {
	present := make(map[int]bool, len(available))
	for _, migration := range available {
		n := versionNumber(migration.Version)
		if n < 0 {
			return newMigrationError(migration.Version, migration.FilePath, "validate sequence",
				fmt.Errorf("%w: version %q is not numeric", ErrInvalidMigrationFile, migration.Version))
		}
		present[n] = true
	}

	if len(available) > 0 {
		first := versionNumber(available[0].Version)
		last := versionNumber(available[len(available)-1].Version)
		for v := first; v <= last; v++ {
			if !present[v] {
				return fmt.Errorf("%w: missing migration version %03d in sequence", ErrVersionConflict, v)
			}
		}
	}

	for _, record := range applied {
		if !present[versionNumber(record.Version)] {
			return fmt.Errorf("%w: applied migration %s not found in available migrations", ErrVersionConflict, record.Version)
		}
	}
	return nil
}
