//go:build integration

package cli_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-arrower/uow/internal/cli"
	"github.com/go-arrower/uow/postgres"
	"github.com/go-arrower/uow/tests"
)

var pgDocker *tests.PostgresDocker

func TestMain(m *testing.M) {
	pgDocker = tests.GetPostgresDockerForIntegrationTestingInstance()

	code := m.Run()

	pgDocker.Cleanup()
	os.Exit(code)
}

func TestCLI_Integration(t *testing.T) {
	t.Parallel()

	pg := pgDocker.NewTestDatabase()
	defer pg.Shutdown(context.Background()) //nolint:errcheck // test cleanup

	require.NoError(t, pg.MigrateDown(0))

	file := writeConfig(t, pg.Config)

	output, err := cli.TestExecute(t, cli.NewCLI(), "migrate", "version", "--config", file)
	assert.NoError(t, err)
	assert.Contains(t, output, "version 0")

	output, err = cli.TestExecute(t, cli.NewCLI(), "migrate", "up", "--config", file, "--wait", "5s")
	assert.NoError(t, err)
	assert.Contains(t, output, "version 1")

	output, err = cli.TestExecute(t, cli.NewCLI(), "check", "--config", file, "--log-level", "uow:info")
	assert.NoError(t, err)
	assert.Contains(t, output, "ok (migration version 1, dirty: false)")
	assert.Contains(t, output, "database reachable")

	output, err = cli.TestExecute(t, cli.NewCLI(), "migrate", "down", "1", "--config", file)
	assert.NoError(t, err)
	assert.Contains(t, output, "version 0")
}

func writeConfig(t *testing.T, pg postgres.Config) string {
	t.Helper()

	migrations, err := filepath.Abs("../../tests/testdata/migrations")
	require.NoError(t, err)

	content := fmt.Sprintf(`environment: test
postgres:
  user: %s
  password: %s
  database: %s
  host: %s
  port: %d
  max_conns: 2
  migrations_dir: %s
`, pg.User, pg.Password, pg.Database, pg.Host, pg.Port, migrations)

	file := filepath.Join(t.TempDir(), "uow.yaml")
	require.NoError(t, os.WriteFile(file, []byte(content), 0o600))

	return file
}
