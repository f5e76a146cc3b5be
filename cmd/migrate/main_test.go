package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/migrations"
)

type fakeMigrator struct {
	upErr   error
	forced  []int
	version uint
	verErr  error
	calls   []string
}

func (f *fakeMigrator) Up() error   { f.calls = append(f.calls, "up"); return f.upErr }
func (f *fakeMigrator) Down() error { f.calls = append(f.calls, "down"); return nil }
func (f *fakeMigrator) Force(v int) error {
	f.forced = append(f.forced, v)
	return nil
}
func (f *fakeMigrator) Version() (uint, bool, error) { return f.version, false, f.verErr }

func TestRunDefaultsToUpAndIgnoresNoChange(t *testing.T) {
	f := &fakeMigrator{upErr: migrate.ErrNoChange}
	require.NoError(t, run(f, nil, logging.NewWithWriter(&bytes.Buffer{}, "info")))
	assert.Equal(t, []string{"up"}, f.calls)
}

func TestRunSurfacesUpFailure(t *testing.T) {
	f := &fakeMigrator{upErr: errors.New("syntax error at or near")}
	assert.ErrorContains(t, run(f, []string{"up"}, logging.NewWithWriter(&bytes.Buffer{}, "info")), "migrate up")
}

func TestRunForce(t *testing.T) {
	f := &fakeMigrator{}
	logger := logging.NewWithWriter(&bytes.Buffer{}, "info")

	require.NoError(t, run(f, []string{"force", "2"}, logger))
	assert.Equal(t, []int{2}, f.forced)

	assert.Error(t, run(f, []string{"force"}, logger))
	assert.Error(t, run(f, []string{"force", "two"}, logger))
	assert.Error(t, run(f, []string{"sideways"}, logger))
}

func TestRunVersionWithEmptySchema(t *testing.T) {
	var buf bytes.Buffer
	f := &fakeMigrator{verErr: migrate.ErrNilVersion}
	require.NoError(t, run(f, []string{"version"}, logging.NewWithWriter(&buf, "info")))
	assert.Contains(t, buf.String(), "no migrations applied")
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := migrations.FS.ReadDir(".")
	require.NoError(t, err)

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	assert.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}
