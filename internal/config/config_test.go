package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "5001", cfg.HTTP.Port)
	assert.Equal(t, ":5001", cfg.HTTP.Addr())
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.Enrich.Timeout)
	assert.False(t, cfg.Enrich.AllowMissing)
	assert.Equal(t, 3, cfg.Ratings.TopN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 2*time.Second, cfg.AMQP.PublishTimeout)
}

func TestLoadRejectsOversizedTopN(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("BOOKCATALOG_RATINGS_TOP_N", "10")

	_, err := Load("")
	assert.ErrorContains(t, err, "ratings.top_n")
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PORT", "8080")
	t.Setenv("BOOKCATALOG_STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/books")
	t.Setenv("BOOKCATALOG_ENRICH_TIMEOUT", "750ms")
	t.Setenv("BOOKCATALOG_RATINGS_TOP_N", "2")
	t.Setenv("BOOKCATALOG_AMQP_PUBLISH_TIMEOUT", "300ms")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTP.Port)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/books", cfg.Store.DSN)
	assert.Equal(t, 750*time.Millisecond, cfg.Enrich.Timeout)
	assert.Equal(t, 2, cfg.Ratings.TopN)
	assert.Equal(t, 300*time.Millisecond, cfg.AMQP.PublishTimeout)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "bookcatalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: sqlite
enrich:
  allow_missing: true
log:
  level: debug
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "bookcatalog.db", cfg.Store.DSN)
	assert.True(t, cfg.Enrich.AllowMissing)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"memory ok", func(c *Config) {}, false},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }, true},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, true},
		{"empty port", func(c *Config) { c.HTTP.Port = "" }, true},
		{"bad sample ratio", func(c *Config) { c.OTel.SampleRatio = 2 }, true},
		{"top n at limit", func(c *Config) { c.Ratings.TopN = 3 }, false},
		{"top n above limit", func(c *Config) { c.Ratings.TopN = 4 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{
				HTTP:  HTTPConfig{Port: "5001"},
				Store: StoreConfig{Driver: "memory"},
			}
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	chdir(t, t.TempDir())
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir for go < 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
