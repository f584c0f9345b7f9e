package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yafengV/CrashParser/pkg/crashlog"
)

func newViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))
	return v
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load(newViper(t, ""))
	require.NoError(t, err)

	assert.Equal(t, ReaderAtos, c.Symbolicate.Reader)
	assert.Equal(t, "atos", c.Symbolicate.AtosPath)
	assert.Equal(t, 30*time.Second, c.Symbolicate.Timeout)
	assert.Equal(t, 4, c.Symbolicate.Workers)
	assert.Equal(t, 64, c.Symbolicate.BatchSize)
	assert.True(t, c.Symbolicate.Demangle)
	assert.Equal(t, []crashlog.Arch{crashlog.ArchARM64e, crashlog.ArchARM64, crashlog.ArchX86_64}, c.Archs())
	assert.NotEmpty(t, c.Daemon.Socket)
}

func TestLoadFile(t *testing.T) {
	c, err := Load(newViper(t, `
daemon:
  port: 3993
symbolicate:
  reader: MachO
  timeout: 5s
  workers: 0
  archs: arm64,x86_64,ARM64
  refine-embedded: true
dsym:
  dirs:
    - /tmp/dsyms
    - /tmp/dsyms
  map:
    DCA7CC35-D856-3582-B7D5-256E9B5E1A40: /tmp/MyApp.dSYM/Contents/Resources/DWARF/MyApp
`))
	require.NoError(t, err)

	assert.Equal(t, "localhost", c.Daemon.Host)
	assert.Empty(t, c.Daemon.Socket)
	assert.Equal(t, ReaderMacho, c.Symbolicate.Reader)
	assert.Equal(t, 5*time.Second, c.Symbolicate.Timeout)
	assert.Equal(t, 1, c.Symbolicate.Workers)
	assert.True(t, c.Symbolicate.RefineEmbedded)
	assert.Equal(t, []crashlog.Arch{crashlog.ArchARM64, crashlog.ArchX86_64}, c.Archs())
	assert.Equal(t, []string{"/tmp/dsyms"}, c.DSYM.Dirs)
	assert.Len(t, c.DSYM.Map, 1)
}

func TestLoadInvalid(t *testing.T) {
	tests := map[string]string{
		"reader":      "symbolicate:\n  reader: gdb\n",
		"arch":        "symbolicate:\n  archs: [ppc]\n",
		"host+socket": "daemon:\n  host: 0.0.0.0\n  port: 1\n  socket: /tmp/x.sock\n",
		"host only":   "daemon:\n  host: 0.0.0.0\n",
	}
	for name, yaml := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(newViper(t, yaml))
			assert.Error(t, err)
		})
	}
}
