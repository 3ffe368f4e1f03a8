package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vecinal/billing-engine/config"
	"github.com/vecinal/billing-engine/engine"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "billing.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	// GIVEN: No config file
	// WHEN: Loading
	// THEN: Development defaults apply

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "billing.db", cfg.Storage.Path)
	assert.Equal(t, int(time.January), cfg.Billing.FiscalStartMonth)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	// GIVEN: A TOML file overriding port, storage and module order
	// WHEN: Loading
	// THEN: Overrides win, untouched fields keep defaults

	path := writeConfig(t, `
[server]
port = 9000

[storage]
path = "/var/lib/billing/data.db"

[billing]
module_priority = ["water", "dues"]
fiscal_start_month = 7
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/var/lib/billing/data.db", cfg.Storage.Path)
	assert.NotEmpty(t, cfg.Server.AllowedOrigins, "defaults survive partial files")

	mp := cfg.ModulePriority()
	assert.Equal(t, 0, mp[engine.ModuleWater])
	assert.Equal(t, 1, mp[engine.ModuleDues])

	assert.Equal(t, time.July, cfg.FiscalCalendar().StartMonth)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	// GIVEN: Config files with out-of-range values
	// WHEN: Loading
	// THEN: Validation fails

	_, err := config.Load(writeConfig(t, "[server]\nport = -1\n"))
	assert.Error(t, err)

	_, err = config.Load(writeConfig(t, "[billing]\nfiscal_start_month = 13\n"))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	// GIVEN: A path that does not exist
	// WHEN: Loading
	// THEN: An error surfaces instead of silently using defaults

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
