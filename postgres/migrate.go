package postgres

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// MigrateUp applies all migrations of the Config that are not applied yet.
func (h *Handler) MigrateUp() error {
	m, err := h.migrator()
	if err != nil {
		return err
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%w: could not migrate up: %v", ErrMigrationFailed, err) //nolint:errorlint,lll // prevent err in api
	}

	return nil
}

// MigrateDown reverts the last n migrations, all of them if n is not positive.
func (h *Handler) MigrateDown(n int) error {
	m, err := h.migrator()
	if err != nil {
		return err
	}

	if n > 0 {
		err = m.Steps(-n)
	} else {
		err = m.Down()
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%w: could not migrate down: %v", ErrMigrationFailed, err) //nolint:errorlint,lll // prevent err in api
	}

	return nil
}

// MigrationVersion returns the currently applied version and if it is dirty.
// Without any applied migration, the version is 0.
func (h *Handler) MigrationVersion() (uint, bool, error) {
	m, err := h.migrator()
	if err != nil {
		return 0, false, err
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("%w: could not read version: %v", ErrMigrationFailed, err) //nolint:errorlint,lll // prevent err in api
	}

	return version, dirty, nil
}

func (h *Handler) migrator() (*migrate.Migrate, error) {
	if h.Config.Migrations == nil {
		return nil, fmt.Errorf("%w: no migration files given", ErrMigrationFailed)
	}

	fsDriver, err := iofs.New(h.Config.Migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("%w: could not create migration file driver: %v", ErrMigrationFailed, err) //nolint:errorlint,lll // prevent err in api
	}

	driver, err := postgres.WithInstance(h.DB, &postgres.Config{}) //nolint:exhaustruct // use default config
	if err != nil {
		return nil, fmt.Errorf("%w: could not get database driver: %v", ErrMigrationFailed, err) //nolint:errorlint,lll // prevent err in api
	}

	m, err := migrate.NewWithInstance("iofs", fsDriver, h.Config.Database, driver)
	if err != nil {
		return nil, fmt.Errorf("%w: could not create new migration instance: %v", ErrMigrationFailed, err) //nolint:errorlint,lll // prevent err in api
	}

	return m, nil
}
