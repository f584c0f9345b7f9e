package crashlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSniff(t *testing.T) {
	tests := map[string]struct {
		in   string
		want Format
	}{
		"object":        {in: `{"crashDiagnostics":[]}`, want: FormatMetricKit},
		"array":         {in: "[{}]", want: FormatMetricKit},
		"leading space": {in: " \n\t {}", want: FormatMetricKit},
		"bom":           {in: "\xef\xbb\xbf{}", want: FormatMetricKit},
		"legacy":        {in: "Incident Identifier: x", want: FormatLegacy},
		"empty":         {in: "", want: FormatLegacy},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sniff([]byte(tt.in)))
		})
	}
}

func TestParseFile(t *testing.T) {
	reports, err := ParseFile(filepath.Join("testdata", "myapp.crash"))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, FormatLegacy, reports[0].Format)

	reports, err = ParseFile(filepath.Join("testdata", "metrickit.json"))
	require.NoError(t, err)
	assert.Len(t, reports, 2)
}

func TestParseWithBOM(t *testing.T) {
	bom := []byte("\xef\xbb\xbf")

	data, err := os.ReadFile(filepath.Join("testdata", "metrickit.json"))
	require.NoError(t, err)
	reports, err := Parse(append(bom, data...))
	require.NoError(t, err)
	assert.Len(t, reports, 2)
	reports, err = ParseMetricKit(append(bom, data...))
	require.NoError(t, err)
	assert.Len(t, reports, 2)

	data, err = os.ReadFile(filepath.Join("testdata", "myapp.crash"))
	require.NoError(t, err)
	reports, err = Parse(append(bom, data...))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "6F1D4C2E-3B9A-4E7F-8D21-0C5A9B8E7F61", reports[0].Metadata.IncidentID)
	r, err := ParseLegacy(append(bom, data...))
	require.NoError(t, err)
	assert.Equal(t, "6F1D4C2E-3B9A-4E7F-8D21-0C5A9B8E7F61", r.Metadata.IncidentID)
}
