package symbolicate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/yafengV/CrashParser/pkg/crashlog"
)

// Kind classifies the result of resolving one frame
type Kind string

const (
	Resolved                      Kind = "resolved"
	UnresolvedNoImage             Kind = "no-image"
	UnresolvedNoSymbol            Kind = "no-symbol"
	UnresolvedExternalToolFailure Kind = "tool-failure"
	NegativeOffset                Kind = "negative-offset"
	// Embedded frames kept the symbol they were parsed with
	Embedded Kind = "embedded"
	// Canceled frames were never queried
	Canceled Kind = "canceled"
)

// ReasonTimeout is the failure reason of a query that ran out of time
const ReasonTimeout = "timeout"

var kindStatus = map[Kind]crashlog.Status{
	Resolved:                      crashlog.StatusResolved,
	UnresolvedNoImage:             crashlog.StatusNoImage,
	UnresolvedNoSymbol:            crashlog.StatusNoSymbol,
	UnresolvedExternalToolFailure: crashlog.StatusToolFailure,
	NegativeOffset:                crashlog.StatusNegativeOffset,
	Embedded:                      crashlog.StatusEmbedded,
}

// KindOf maps a frame symbol status back to its outcome kind
func KindOf(s *crashlog.Symbol) Kind {
	if s == nil {
		return Canceled
	}
	for k, st := range kindStatus {
		if st == s.Status {
			return k
		}
	}
	return Canceled
}

// Outcome is the per-frame resolution result
type Outcome struct {
	Kind           Kind   `json:"kind"`
	Function       string `json:"function,omitempty"`
	File           string `json:"file,omitempty"`
	Line           int    `json:"line,omitempty"`
	MismatchedUUID bool   `json:"mismatched_uuid,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// Symbol converts o to the symbol stored on a frame
func (o Outcome) Symbol() crashlog.Symbol {
	sym := crashlog.Symbol{
		Status:         kindStatus[o.Kind],
		MismatchedUUID: o.MismatchedUUID,
		Reason:         o.Reason,
	}
	if o.Kind == Resolved {
		sym.Function = o.Function
		sym.File = o.File
		sym.Line = o.Line
	}
	return sym
}

// definitive outcomes do not change when the same query is asked again
func (o Outcome) definitive() bool {
	return o.Kind == Resolved || (o.Kind == UnresolvedNoSymbol && !o.MismatchedUUID)
}

func answerOutcome(a Answer) Outcome {
	if !a.Found || a.Function == "" {
		return Outcome{Kind: UnresolvedNoSymbol}
	}
	return Outcome{Kind: Resolved, Function: a.Function, File: a.File, Line: a.Line}
}

// errOutcome downgrades a reader error to a frame outcome
func errOutcome(err error) Outcome {
	var terr *ToolError
	switch {
	case errors.Is(err, ErrNotFound):
		return Outcome{Kind: UnresolvedNoSymbol}
	case errors.Is(err, ErrUUIDMismatch):
		return Outcome{Kind: UnresolvedNoSymbol, MismatchedUUID: true, Reason: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return Outcome{Kind: UnresolvedExternalToolFailure, Reason: ReasonTimeout}
	case errors.As(err, &terr):
		return Outcome{Kind: UnresolvedExternalToolFailure, Reason: terr.Error()}
	}
	return Outcome{Kind: UnresolvedExternalToolFailure, Reason: err.Error()}
}

// Summary counts frame outcomes
type Summary struct {
	Total  int          `json:"total"`
	Counts map[Kind]int `json:"counts"`
}

// NewSummary returns an empty summary
func NewSummary() Summary {
	return Summary{Counts: make(map[Kind]int)}
}

// Tally counts the outcome of every frame of r
func Tally(r *crashlog.CrashReport) Summary {
	s := NewSummary()
	for _, f := range r.Frames() {
		s.Add(KindOf(f.Symbol))
	}
	return s
}

// Add counts one frame of kind k
func (s *Summary) Add(k Kind) {
	if s.Counts == nil {
		s.Counts = make(map[Kind]int)
	}
	s.Total++
	s.Counts[k]++
}

// Merge adds o's counts to s
func (s *Summary) Merge(o Summary) {
	if s.Counts == nil {
		s.Counts = make(map[Kind]int)
	}
	s.Total += o.Total
	for k, n := range o.Counts {
		s.Counts[k] += n
	}
}

// Resolved returns the number of frames resolved from debug info
func (s Summary) Resolved() int {
	return s.Counts[Resolved]
}

// Unresolved returns the number of frames left without a symbol
func (s Summary) Unresolved() int {
	return s.Total - s.Counts[Resolved] - s.Counts[Embedded]
}

func (s Summary) String() string {
	kinds := make([]string, 0, len(s.Counts))
	for k, n := range s.Counts {
		if n > 0 && k != Resolved {
			kinds = append(kinds, fmt.Sprintf("%s=%d", k, n))
		}
	}
	sort.Strings(kinds)
	out := fmt.Sprintf("%d/%d frames resolved", s.Resolved(), s.Total)
	if len(kinds) > 0 {
		out += " (" + strings.Join(kinds, ", ") + ")"
	}
	return out
}
