package symbolicate

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yafengV/CrashParser/pkg/crashlog"
	"github.com/yafengV/CrashParser/pkg/dsym"
)

func TestParseAtosLine(t *testing.T) {
	tests := []struct {
		line string
		want Answer
	}{
		{"-[MyClass myMethod] (in MyApp) (MyFile.m:42)", Answer{Function: "-[MyClass myMethod]", File: "MyFile.m", Line: 42, Found: true}},
		{"main (in MyApp) + 12", Answer{Function: "main", Found: true}},
		{"closure #1 in ViewController.viewDidLoad() (in MyApp) (ViewController.swift:18)", Answer{Function: "closure #1 in ViewController.viewDidLoad()", File: "ViewController.swift", Line: 18, Found: true}},
		{"foo (File.c:3)", Answer{Function: "foo", File: "File.c", Line: 3, Found: true}},
		{"foo", Answer{Function: "foo", Found: true}},
		{"0x0000000102a3c4e8", Answer{}},
		{"0x0000000102a3c4e8 (in MyApp)", Answer{}},
		{"??", Answer{}},
		{"", Answer{}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAtosLine(tt.line))
		})
	}
}

// fakeAtos only knows arm64 symbols and echoes addresses for any other arch
const fakeAtos = `#!/bin/sh
arch="$2"
shift 6
for a in "$@"; do
  if [ "$arch" = "arm64" ]; then
    echo "-[MyClass myMethod] (in MyApp) (MyFile.m:42)"
  else
    echo "$a"
  fi
done
`

func TestAtosReaderArchFallback(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	tool := filepath.Join(t.TempDir(), "atos")
	require.NoError(t, os.WriteFile(tool, []byte(fakeAtos), 0o755))

	r := NewAtosReader(tool)
	q := Query{
		UUID:        myAppUUID,
		LoadAddress: 0x102a38000,
		Offset:      0x44e8,
		Address:     0x102a3c4e8,
		Bundle:      dsym.Bundle{UUID: myAppUUID, Path: "/dsyms/MyApp"},
	}

	a, err := r.Resolve(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "-[MyClass myMethod]", a.Function)
	assert.Equal(t, "MyFile.m", a.File)
	assert.Equal(t, 42, a.Line)

	q.Arch = crashlog.ArchX86_64
	_, err = r.Resolve(context.Background(), q)
	assert.ErrorIs(t, err, ErrNotFound)

	answers, err := NewAtosReader(tool, crashlog.ArchARM64).ResolveBatch(context.Background(), []Query{
		{Address: 0x102a3c4e8, Bundle: q.Bundle},
		{Address: 0x102a3c210, Bundle: q.Bundle},
	})
	require.NoError(t, err)
	require.Len(t, answers, 2)
	assert.True(t, answers[1].Found)
}

func TestAtosReaderToolFailure(t *testing.T) {
	r := NewAtosReader(filepath.Join(t.TempDir(), "missing-atos"))
	_, err := r.Resolve(context.Background(), Query{Bundle: dsym.Bundle{Path: "/dsyms/MyApp"}})
	var terr *ToolError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "atos", terr.Tool)
}
