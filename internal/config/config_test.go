package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name    string
		yaml    string
		missing bool
		exp     func(c *Config)
		expErr  bool
	}{
		{
			name:    "missing file uses defaults",
			missing: true,
			exp:     func(c *Config) {},
		},
		{
			name: "overrides",
			yaml: `
app_id: com.acme.assistant
listen_addr: 127.0.0.1:4100
sidecar:
  name: analyzer
  args: ["--stdio"]
  call_timeout: 30s
`,
			exp: func(c *Config) {
				c.AppID = "com.acme.assistant"
				c.ListenAddr = "127.0.0.1:4100"
				c.Sidecar.Name = "analyzer"
				c.Sidecar.Args = []string{"--stdio"}
				c.Sidecar.CallTimeout = 30 * time.Second
			},
		},
		{
			name:   "bad yaml",
			yaml:   "app_id: [",
			expErr: true,
		},
		{
			name:   "no sidecar",
			yaml:   "sidecar:\n  name: \"\"\n",
			expErr: true,
		},
		{
			name:   "negative timeout",
			yaml:   "sidecar:\n  call_timeout: -1s\n",
			expErr: true,
		},
	}

	for i, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			path := filepath.Join(dir, "missing.yaml")
			if !c.missing {
				path = filepath.Join(dir, "config"+string(rune('a'+i))+".yaml")
				require.NoError(t, os.WriteFile(path, []byte(c.yaml), 0o644))
			}
			cfg, err := Load(path)
			if c.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			exp := Default()
			c.exp(exp)
			assert.Equal(t, exp, cfg)
		})
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
