package crashlog

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
)

var utf8BOM = []byte("\xef\xbb\xbf")

func trimBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, utf8BOM)
}

// Sniff guesses the format of a crash report. Input whose first non-space
// byte opens a JSON object or array is MetricKit; anything else is legacy text.
func Sniff(data []byte) Format {
	trimmed := bytes.TrimLeft(trimBOM(data), " \t\r\n")
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return FormatMetricKit
	}
	return FormatLegacy
}

// Parse sniffs data and runs the matching parser. Legacy input always yields
// exactly one report; a MetricKit payload yields one per crash diagnostic.
func Parse(data []byte) ([]*CrashReport, error) {
	data = trimBOM(data)
	switch Sniff(data) {
	case FormatMetricKit:
		return ParseMetricKit(data)
	default:
		r, err := ParseLegacy(data)
		if err != nil {
			return nil, err
		}
		return []*CrashReport{r}, nil
	}
}

// ParseFile reads path and calls Parse
func ParseFile(path string) ([]*CrashReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return Parse(data)
}
