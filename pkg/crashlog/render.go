package crashlog

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/yafengV/CrashParser/internal/colors"
)

var colorError = colors.BoldHiRed().SprintFunc()
var colorAddr = colors.Faint().SprintfFunc()
var colorImage = colors.BoldHiMagenta().SprintfFunc()
var colorField = colors.BoldHiBlue().SprintFunc()
var colorLoc = colors.FaintYellow().SprintFunc()

// String renders the report for a terminal
func (r *CrashReport) String() string {
	var out strings.Builder

	md := r.Metadata
	field := func(key string, value any) {
		if s := fmt.Sprint(value); s != "" && s != "0" {
			fmt.Fprintf(&out, "%s: %s\n", colorField(key), s)
		}
	}
	field("Process", md.ProcessName)
	field("PID", md.PID)
	field("Identifier", md.AppID)
	field("Version", strings.TrimSpace(md.AppVersion+" "+paren(md.AppBuild)))
	field("Hardware Model", md.DeviceModel)
	field("OS Version", strings.TrimSpace(md.OSVersion+" "+paren(md.OSBuild)))
	field("Date/Time", md.Timestamp)
	out.WriteString("\n")
	if r.Exception.Type != "" || r.Exception.Signal != "" {
		fmt.Fprintf(&out, "%s: %s\n", colorField("Exception"), colorError(strings.TrimSpace(r.Exception.Type+" "+paren(r.Exception.Signal))))
	}
	field("Exception Codes", r.Exception.Code)
	field("Termination Reason", r.Exception.TerminationReason)
	out.WriteString("\n")

	for _, t := range r.Threads {
		header := fmt.Sprintf("Thread %d", t.ID)
		if t.Crashed {
			header = colorError(header + " Crashed")
		}
		if t.Label != "" {
			header += " " + colors.Faint().Sprint(t.Label)
		}
		out.WriteString(header + ":\n")

		buf := bytes.NewBufferString("")
		w := tabwriter.NewWriter(buf, 0, 0, 1, ' ', 0)
		for _, f := range t.Frames {
			fmt.Fprintf(w, "  %02d: %s\t%s %s\n", f.Index, colorImage(frameImageName(r, f)), colorAddr("%#x", f.Address), renderSymbol(r, f))
		}
		w.Flush()
		out.WriteString(buf.String())
		out.WriteString("\n")
	}

	return out.String()
}

func renderSymbol(r *CrashReport, f *StackFrame) string {
	if f.Symbol == nil {
		return rawLocation(r, f)
	}
	if f.Symbol.OK() {
		s := colorField(f.Symbol.Function)
		if f.Symbol.FuncOffset > 0 {
			s += fmt.Sprintf(" + %d", f.Symbol.FuncOffset)
		}
		if f.Symbol.File != "" {
			s += " " + colorLoc(fmt.Sprintf("(%s:%d)", f.Symbol.File, f.Symbol.Line))
		}
		return s
	}
	return strings.TrimSpace(rawLocation(r, f) + " " + colors.Outcome(string(f.Symbol.Status)).Sprint(Annotation(f.Symbol)))
}

func paren(s string) string {
	if s == "" {
		return ""
	}
	return "(" + s + ")"
}
