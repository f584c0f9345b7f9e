package symbolicate

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yafengV/CrashParser/internal/config"
	"github.com/yafengV/CrashParser/pkg/crashlog"
	"github.com/yafengV/CrashParser/pkg/dsym"
	sym "github.com/yafengV/CrashParser/pkg/symbolicate"
)

const myAppUUID = "DCA7CC35-D856-3582-B7D5-256E9B5E1A40"

func testdata(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "..", "pkg", "crashlog", "testdata", name))
	require.NoError(t, err)
	return data
}

func testIndex(t *testing.T) *dsym.Index {
	t.Helper()
	idx, err := dsym.FromMap(map[string]string{myAppUUID: "/dsyms/MyApp"})
	require.NoError(t, err)
	return idx
}

type countingReader struct {
	calls atomic.Int32
}

func (r *countingReader) Resolve(ctx context.Context, q sym.Query) (sym.Answer, error) {
	r.calls.Add(1)
	if q.Offset == 0x44e8 {
		return sym.Answer{Function: "-[MyClass myMethod]", File: "MyFile.m", Line: 42, Found: true}, nil
	}
	return sym.Answer{}, sym.ErrNotFound
}

func TestRunMixedInputs(t *testing.T) {
	reader := &countingReader{}
	var seen atomic.Int32
	p := New(&Config{
		Workers:  2,
		Timeout:  time.Second,
		OnReport: func(ReportResult) { seen.Add(1) },
	}, reader, testIndex(t))

	res, err := p.Run(context.Background(), []Input{
		{Name: "myapp.crash", Data: testdata(t, "myapp.crash")},
		{Name: "garbage.crash", Data: []byte("not a crash report")},
		{Name: "metrickit.json", Data: testdata(t, "metrickit.json")},
	})
	require.NoError(t, err)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, "garbage.crash", res.Errors[0].Input)
	assert.True(t, crashlog.IsParseError(res.Errors[0].Err))

	// one legacy report followed by two MetricKit diagnostics, in input order
	require.Len(t, res.Reports, 3)
	assert.Equal(t, "myapp.crash", res.Reports[0].Input)
	assert.Equal(t, crashlog.FormatLegacy, res.Reports[0].Report.Format)
	assert.Equal(t, crashlog.FormatMetricKit, res.Reports[1].Report.Format)
	assert.Equal(t, 1, res.Reports[2].Index)
	assert.EqualValues(t, 3, seen.Load())

	var total int
	for _, rr := range res.Reports {
		total += rr.Summary.Total
	}
	assert.Equal(t, total, res.Summary.Total)
	assert.Equal(t, 2+1+1, res.Summary.Resolved())

	f0 := res.Reports[0].Report.CrashedThread().Frames[0]
	assert.Equal(t, "-[MyClass myMethod]", f0.Symbol.Function)

	// the run-scoped cache answers repeated (uuid, offset) pairs across reports
	assert.Less(t, int(reader.calls.Load()), res.Summary.Total)
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := New(nil, &countingReader{}, testIndex(t)).Run(ctx, []Input{
		{Name: "myapp.crash", Data: testdata(t, "myapp.crash")},
	})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Empty(t, res.Reports)
}

func TestRunFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "myapp.crash")
	require.NoError(t, os.WriteFile(path, testdata(t, "myapp.crash"), 0o644))

	res, err := New(&Config{}, &countingReader{}, testIndex(t)).RunFiles(context.Background(), []string{
		path,
		filepath.Join(dir, "missing.crash"),
	})
	require.NoError(t, err)
	require.Len(t, res.Reports, 1)
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0].Err, os.ErrNotExist)
}

func TestWriteText(t *testing.T) {
	res, err := New(&Config{}, &countingReader{}, testIndex(t)).Run(context.Background(), []Input{
		{Name: "myapp.crash", Data: testdata(t, "myapp.crash")},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, res, true))
	out := buf.String()

	assert.Contains(t, out, "-[MyClass myMethod]")
	assert.Contains(t, out, "[no debug symbols]")
	assert.Contains(t, out, "[no binary image]")
	assert.Contains(t, out, "Symbolication:")
	assert.Contains(t, out, "  Resolved: 2\n")

	// symbolicated output parses back
	r, err := crashlog.ParseLegacy(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, res.Reports[0].Report.FrameCount(), r.FrameCount())
}

func TestResultJSON(t *testing.T) {
	res := &Result{
		Summary: sym.NewSummary(),
		Errors:  []InputError{{Input: "bad.crash", Err: crashlog.ErrUnrecognizedFormat}},
	}
	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"bad.crash: unrecognized crash report format"`), string(data))
}

func TestBuildIndex(t *testing.T) {
	idx, err := BuildIndex([]string{t.TempDir()}, nil, map[string]string{myAppUUID: "/dsyms/MyApp"})
	require.NoError(t, err)
	b, ok := idx.Lookup(strings.ToLower(myAppUUID))
	require.True(t, ok)
	assert.Equal(t, "/dsyms/MyApp", b.Path)

	_, err = BuildIndex(nil, []string{filepath.Join(t.TempDir(), "missing.xcarchive")}, nil)
	assert.Error(t, err)
}

func TestNewReader(t *testing.T) {
	c := &config.Config{}
	c.Symbolicate.Reader = config.ReaderMacho
	r, closer := NewReader(c)
	assert.IsType(t, &sym.MachoReader{}, r)
	assert.NoError(t, closer.Close())

	c.Symbolicate.Reader = config.ReaderAtos
	r, closer = NewReader(c)
	assert.IsType(t, &sym.AtosReader{}, r)
	assert.NoError(t, closer.Close())
}
