package crashlog

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrMalformedHeader is returned when the header is missing or carries an unparsable mandatory value
	ErrMalformedHeader = errors.New("malformed header")
	// ErrMalformedBinaryImageLine is returned for a line in the Binary Images section that is not an image
	ErrMalformedBinaryImageLine = errors.New("malformed binary image line")
	// ErrUnrecognizedFormat is returned when no thread or Binary Images section can be located
	ErrUnrecognizedFormat = errors.New("unrecognized crash report format")
	// ErrInvalidJSON is returned when a MetricKit payload does not decode
	ErrInvalidJSON = errors.New("invalid JSON")
	// ErrMissingCallStackTree is returned for a crash diagnostic without a call stack tree
	ErrMissingCallStackTree = errors.New("missing callStackTree")
	// ErrMissingExceptionType is returned for a crash diagnostic without exception type or signal
	ErrMissingExceptionType = errors.New("missing exception type")
)

// ParseError is a structural error that stops the parse of one input
type ParseError struct {
	Format Format
	Line   int // 1-based, 0 when not line specific
	Msg    string
	Err    error
}

func (e *ParseError) Error() string {
	where := string(e.Format)
	if e.Line > 0 {
		where = fmt.Sprintf("%s:%d", where, e.Line)
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", where, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", where, e.Err, e.Msg)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func parseErr(f Format, line int, err error, format string, args ...any) error {
	return &ParseError{
		Format: f,
		Line:   line,
		Msg:    fmt.Sprintf(format, args...),
		Err:    err,
	}
}

// IsParseError reports whether err is a structural parse failure
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
