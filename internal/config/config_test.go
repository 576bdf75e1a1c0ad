package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/api", cfg.Server.BasePath)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL())
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout())
	assert.True(t, cfg.KnownDepartment("anything"))
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("server:\n  addr: :9000\n  token_ttl: 2h\ndepartments: [OP, QA]\n"))
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "/api", cfg.Server.BasePath, "unset keys keep their default")
	assert.Equal(t, 2*time.Hour, cfg.TokenTTL())
	assert.True(t, cfg.KnownDepartment("QA"))
	assert.False(t, cfg.KnownDepartment("HR"))
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad ttl":          "server:\n  token_ttl: soon\n",
		"negative timeout": "client:\n  request_timeout: -1s\n",
		"base path":        "server:\n  base_path: api\n",
		"dup department":   "departments: [OP, OP]\n",
		"empty department": "departments: [\"\"]\n",
		"admin no pass":    "bootstrap_admin:\n  username: root\n  password: \"\"\n",
		"bad yaml":         "server: [\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptionalAndLoad(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("server:\n  addr: :7000\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
}
