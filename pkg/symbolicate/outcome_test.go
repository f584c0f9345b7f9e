package symbolicate

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/yafengV/CrashParser/pkg/crashlog"
)

func TestErrOutcome(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		kind       Kind
		mismatched bool
		reason     string
	}{
		{"not found", errors.Wrap(ErrNotFound, "lookup"), UnresolvedNoSymbol, false, ""},
		{"mismatch", ErrUUIDMismatch, UnresolvedNoSymbol, true, ErrUUIDMismatch.Error()},
		{"deadline", errors.Wrap(context.DeadlineExceeded, "atos"), UnresolvedExternalToolFailure, false, ReasonTimeout},
		{"tool", &ToolError{Tool: "atos", Err: errors.New("exit status 1"), Stderr: "bad arch"}, UnresolvedExternalToolFailure, false, "atos: exit status 1: bad arch"},
		{"other", errors.New("boom"), UnresolvedExternalToolFailure, false, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := errOutcome(tt.err)
			assert.Equal(t, tt.kind, o.Kind)
			assert.Equal(t, tt.mismatched, o.MismatchedUUID)
			assert.Equal(t, tt.reason, o.Reason)
		})
	}
}

func TestOutcomeSymbol(t *testing.T) {
	sym := Outcome{Kind: UnresolvedNoSymbol, Function: "ignored", Reason: "r"}.Symbol()
	assert.Equal(t, crashlog.StatusNoSymbol, sym.Status)
	assert.Empty(t, sym.Function)
	assert.Equal(t, "r", sym.Reason)

	sym = Outcome{Kind: Resolved, Function: "main", File: "main.m", Line: 7}.Symbol()
	assert.True(t, sym.OK())
	assert.Equal(t, "main.m", sym.File)

	assert.Equal(t, Resolved, KindOf(&sym))
	assert.Equal(t, Canceled, KindOf(nil))
}

func TestSummary(t *testing.T) {
	var s Summary
	s.Add(Resolved)
	s.Add(UnresolvedNoImage)

	o := NewSummary()
	o.Add(Resolved)
	o.Add(Embedded)
	o.Add(UnresolvedNoSymbol)

	s.Merge(o)
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 2, s.Resolved())
	assert.Equal(t, 2, s.Unresolved())
	assert.Equal(t, "2/5 frames resolved (embedded=1, no-image=1, no-symbol=1)", s.String())
}
