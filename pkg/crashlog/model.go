package crashlog

import (
	"github.com/pkg/errors"
)

// Format is the on-disk encoding a report was parsed from
type Format string

const (
	FormatUnknown   Format = ""
	FormatLegacy    Format = "crash"
	FormatMetricKit Format = "metrickit"
)

// Status describes where a frame's symbol came from, or why there is none
type Status string

const (
	// StatusEmbedded symbols were already present in the input
	StatusEmbedded Status = "embedded"
	// StatusResolved symbols came from a debug-info reader
	StatusResolved Status = "resolved"
	// StatusNoImage means no binary image contains the frame address
	StatusNoImage Status = "no-image"
	// StatusNoSymbol means the debug symbols for the image are missing or held nothing for the address
	StatusNoSymbol Status = "no-symbol"
	// StatusToolFailure means the debug-info reader itself failed
	StatusToolFailure Status = "tool-failure"
	// StatusNegativeOffset means the address lies below its image's load address
	StatusNegativeOffset Status = "negative-offset"
)

// ErrSymbolSet is returned when a frame that already carries a symbol is resolved again
var ErrSymbolSet = errors.New("frame symbol already set")

// Encoding records how a legacy frame line spelled its address
type Encoding string

const (
	EncodingAddress     Encoding = "address"      // 0xADDR
	EncodingLoadOffset  Encoding = "load+offset"  // 0xADDR 0xLOAD + off
	EncodingImageOffset Encoding = "image+offset" // 0xADDR Image + off
	EncodingSymbol      Encoding = "symbol"       // 0xADDR symbol + off (file:line)
)

// Symbol is a resolved (or failed) function/file/line for a frame
type Symbol struct {
	Function string `json:"function,omitempty"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	// FuncOffset is the byte offset into Function when the input spelled one
	FuncOffset     uint64 `json:"func_offset,omitempty"`
	Status         Status `json:"status"`
	MismatchedUUID bool   `json:"mismatched_uuid,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// OK reports whether s names a function
func (s *Symbol) OK() bool {
	return s != nil && (s.Status == StatusResolved || s.Status == StatusEmbedded)
}

// StackFrame is one entry of a thread's backtrace
type StackFrame struct {
	Index int `json:"index"`
	// ImageUUID is the canonical UUID of the owning image, empty when no image contains Address
	ImageUUID string `json:"image_uuid,omitempty"`
	ImageName string `json:"image_name,omitempty"`
	Address   uint64 `json:"address"`
	// LoadAddress is the image base spelled on a legacy frame line, if any
	LoadAddress uint64 `json:"load_address,omitempty"`
	// Offset into the image text segment, present in MetricKit input or once resolved
	Offset   *uint64  `json:"offset,omitempty"`
	Symbol   *Symbol  `json:"symbol,omitempty"`
	Encoding Encoding `json:"-"`
	Raw      string   `json:"-"`
}

// HasOffset reports whether the frame carries an offset
func (f *StackFrame) HasOffset() bool {
	return f.Offset != nil
}

// SetOffset stores the offset into the image text segment unless one is already present
func (f *StackFrame) SetOffset(off uint64) {
	if f.Offset == nil {
		f.Offset = &off
	}
}

// Unresolved reports whether the frame still needs a symbol
func (f *StackFrame) Unresolved() bool {
	return f.Symbol == nil
}

// SetSymbol records the resolution outcome for the frame. Only an embedded
// symbol may be replaced; any other outcome is final.
func (f *StackFrame) SetSymbol(sym Symbol) error {
	if f.Symbol != nil && f.Symbol.Status != StatusEmbedded {
		return errors.Wrapf(ErrSymbolSet, "frame %d (%#x)", f.Index, f.Address)
	}
	f.Symbol = &sym
	return nil
}

// Thread is an ordered backtrace; frame 0 is the fault point
type Thread struct {
	ID      int           `json:"id"`
	Label   string        `json:"label,omitempty"`
	Crashed bool          `json:"crashed"`
	Frames  []*StackFrame `json:"frames"`
	// Unparsed holds lines in the thread's block that matched no frame form
	Unparsed []string `json:"unparsed,omitempty"`
}

// ExceptionInfo describes why the process died
type ExceptionInfo struct {
	Type              string `json:"type,omitempty"`
	Code              string `json:"code,omitempty"`
	Signal            string `json:"signal,omitempty"`
	Subtype           string `json:"subtype,omitempty"`
	TerminationReason string `json:"termination_reason,omitempty"`
}

// Metadata holds the optional descriptive fields of a report
type Metadata struct {
	IncidentID    string `json:"incident_id,omitempty"`
	AppID         string `json:"app_id,omitempty"`
	AppName       string `json:"app_name,omitempty"`
	AppVersion    string `json:"app_version,omitempty"`
	AppBuild      string `json:"app_build,omitempty"`
	OSVersion     string `json:"os_version,omitempty"`
	OSBuild       string `json:"os_build,omitempty"`
	DeviceModel   string `json:"device_model,omitempty"`
	ProcessName   string `json:"process_name,omitempty"`
	ProcessPath   string `json:"process_path,omitempty"`
	PID           int    `json:"pid,omitempty"`
	CodeType      string `json:"code_type,omitempty"`
	ReportVersion int    `json:"report_version,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
}

// CrashReport is the format independent model of one crash
type CrashReport struct {
	Format    Format        `json:"format"`
	Metadata  Metadata      `json:"metadata"`
	Exception ExceptionInfo `json:"exception"`
	Images    *ImageTable   `json:"images"`
	Threads   []*Thread     `json:"threads"`
}

func newReport(f Format) *CrashReport {
	return &CrashReport{Format: f, Images: NewImageTable()}
}

// CrashedThread returns the first thread marked crashed, or nil
func (r *CrashReport) CrashedThread() *Thread {
	for _, t := range r.Threads {
		if t.Crashed {
			return t
		}
	}
	return nil
}

// Frames returns every frame of every thread in thread order
func (r *CrashReport) Frames() []*StackFrame {
	var frames []*StackFrame
	for _, t := range r.Threads {
		frames = append(frames, t.Frames...)
	}
	return frames
}

// FrameCount returns the total number of frames in the report
func (r *CrashReport) FrameCount() int {
	var n int
	for _, t := range r.Threads {
		n += len(t.Frames)
	}
	return n
}
