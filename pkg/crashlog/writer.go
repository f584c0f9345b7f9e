package crashlog

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// WriteOptions controls how WriteLegacy renders frames
type WriteOptions struct {
	// Symbolicated replaces frame addresses with resolved symbols and marks
	// unresolved frames with the reason they stayed that way
	Symbolicated bool
	// Footer is appended verbatim after the Binary Images section
	Footer string
}

const (
	markNoImage     = "[no binary image]"
	markNoSymbol    = "[no debug symbols]"
	markMismatch    = "[no debug symbols: UUID mismatch]"
	markNegative    = "[negative offset]"
	markToolFailure = "[symbolication failed: %s]"
)

var annotationRE = regexp.MustCompile(`\s+\[(?:no binary image|no debug symbols[^\]]*|negative offset|symbolication failed[^\]]*)\]$`)

// WriteLegacy serializes r in the .crash text layout
func WriteLegacy(w io.Writer, r *CrashReport, opts WriteOptions) error {
	bw := bufio.NewWriter(w)

	writeHeader(bw, r)

	for _, t := range r.Threads {
		if t.Label != "" {
			fmt.Fprintf(bw, "Thread %d name:  %s\n", t.ID, t.Label)
		}
		if t.Crashed {
			fmt.Fprintf(bw, "Thread %d Crashed:\n", t.ID)
		} else {
			fmt.Fprintf(bw, "Thread %d:\n", t.ID)
		}
		for _, f := range t.Frames {
			fmt.Fprintln(bw, formatFrame(r, f, opts.Symbolicated))
		}
		fmt.Fprintln(bw)
	}

	fmt.Fprintln(bw, "Binary Images:")
	for _, img := range r.Images.Images() {
		fmt.Fprintln(bw, formatImage(img))
	}
	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "EOF")

	if opts.Footer != "" {
		fmt.Fprintln(bw)
		fmt.Fprint(bw, opts.Footer)
		if !strings.HasSuffix(opts.Footer, "\n") {
			fmt.Fprintln(bw)
		}
	}

	return bw.Flush()
}

// LegacyString is WriteLegacy into a string
func LegacyString(r *CrashReport, opts WriteOptions) string {
	var sb strings.Builder
	_ = WriteLegacy(&sb, r, opts)
	return sb.String()
}

func writeHeader(w io.Writer, r *CrashReport) {
	md := r.Metadata
	field := func(key, value string) {
		if value != "" {
			fmt.Fprintf(w, "%-21s%s\n", key+":", value)
		}
	}
	withParen := func(head, paren string) string {
		if paren == "" {
			return head
		}
		return fmt.Sprintf("%s (%s)", head, paren)
	}

	field("Incident Identifier", md.IncidentID)
	field("Hardware Model", md.DeviceModel)
	if md.ProcessName != "" {
		field("Process", fmt.Sprintf("%s [%d]", md.ProcessName, md.PID))
	}
	field("Path", md.ProcessPath)
	field("Identifier", md.AppID)
	field("Version", withParen(md.AppVersion, md.AppBuild))
	field("Code Type", md.CodeType)
	field("Date/Time", md.Timestamp)
	field("OS Version", withParen(md.OSVersion, md.OSBuild))
	version := md.ReportVersion
	if version == 0 {
		version = 104
	}
	field("Report Version", fmt.Sprintf("%d", version))
	fmt.Fprintln(w)

	ex := r.Exception
	if ex.Type != "" {
		field("Exception Type", withParen(ex.Type, ex.Signal))
	} else {
		field("Termination Signal", ex.Signal)
	}
	field("Exception Codes", ex.Code)
	field("Exception Subtype", ex.Subtype)
	field("Termination Reason", ex.TerminationReason)
	if t := r.CrashedThread(); t != nil {
		field("Triggered by Thread", fmt.Sprintf("%d", t.ID))
	}
	fmt.Fprintln(w)
}

func frameImageName(r *CrashReport, f *StackFrame) string {
	if f.ImageName != "" {
		return f.ImageName
	}
	if f.ImageUUID != "" {
		if img, err := r.Images.Lookup(f.ImageUUID); err == nil {
			return img.Name
		}
	}
	return "???"
}

// rawLocation spells the frame address the way the input did
func rawLocation(r *CrashReport, f *StackFrame) string {
	switch f.Encoding {
	case EncodingAddress:
		return ""
	case EncodingLoadOffset:
		return fmt.Sprintf("%#x + %d", f.LoadAddress, f.Address-f.LoadAddress)
	case EncodingImageOffset:
		return fmt.Sprintf("%s + %d", frameImageName(r, f), f.Address-f.LoadAddress)
	case EncodingSymbol:
		if f.Symbol != nil && f.Symbol.Status == StatusEmbedded {
			return formatSymbol(f.Symbol)
		}
	}
	// MetricKit frames carry an offset instead of a spelled load address
	if f.Offset != nil && *f.Offset <= f.Address {
		return fmt.Sprintf("%#x + %d", f.Address-*f.Offset, *f.Offset)
	}
	if f.ImageUUID != "" {
		if img, err := r.Images.Lookup(f.ImageUUID); err == nil && img.LoadAddressStart <= f.Address {
			return fmt.Sprintf("%#x + %d", img.LoadAddressStart, f.Address-img.LoadAddressStart)
		}
	}
	return ""
}

func formatSymbol(s *Symbol) string {
	var sb strings.Builder
	sb.WriteString(s.Function)
	if s.FuncOffset > 0 {
		fmt.Fprintf(&sb, " + %d", s.FuncOffset)
	}
	if s.File != "" {
		if s.Line > 0 {
			fmt.Fprintf(&sb, " (%s:%d)", s.File, s.Line)
		} else {
			fmt.Fprintf(&sb, " (%s)", s.File)
		}
	}
	return sb.String()
}

// Annotation returns the marker the symbolicated export appends to a frame
// that could not be resolved, or "" for frames with a usable symbol.
func Annotation(s *Symbol) string {
	if s == nil {
		return ""
	}
	switch s.Status {
	case StatusNoImage:
		return markNoImage
	case StatusNoSymbol:
		if s.MismatchedUUID {
			return markMismatch
		}
		return markNoSymbol
	case StatusNegativeOffset:
		return markNegative
	case StatusToolFailure:
		reason := s.Reason
		if reason == "" {
			reason = "unknown error"
		}
		return fmt.Sprintf(markToolFailure, strings.ReplaceAll(reason, "]", ")"))
	}
	return ""
}

func formatFrame(r *CrashReport, f *StackFrame, symbolicated bool) string {
	loc := rawLocation(r, f)
	if symbolicated && f.Symbol != nil {
		if f.Symbol.OK() {
			loc = formatSymbol(f.Symbol)
		} else if mark := Annotation(f.Symbol); mark != "" {
			loc = strings.TrimSpace(loc + " " + mark)
		}
	}
	line := fmt.Sprintf("%-4d%-30s\t0x%016x", f.Index, frameImageName(r, f), f.Address)
	if loc != "" {
		line += " " + loc
	}
	return line
}

func formatImage(img BinaryImage) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%#18x - %#18x %s", img.LoadAddressStart, img.LoadAddressEnd, img.Name)
	if img.Arch != ArchUnknown {
		fmt.Fprintf(&sb, " %s", img.Arch)
	}
	if img.Version != "" {
		fmt.Fprintf(&sb, " (%s)", img.Version)
	}
	fmt.Fprintf(&sb, " <%s>", strings.ToLower(strings.ReplaceAll(img.UUID, "-", "")))
	if img.Path != "" {
		fmt.Fprintf(&sb, " %s", img.Path)
	}
	return sb.String()
}
