package symbolicate

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/apex/log"
	dwf "github.com/blacktop/go-dwarf"
	"github.com/blacktop/go-macho"
	"github.com/pkg/errors"
	"github.com/yafengV/CrashParser/pkg/crashlog"
)

// MachoReader resolves addresses in-process from dSYM DWARF and Mach-O symbol tables
type MachoReader struct {
	mu    sync.Mutex
	files map[string]*machoSymbolizer
}

// NewMachoReader returns a reader that keeps each opened Mach-O until Close
func NewMachoReader() *MachoReader {
	return &MachoReader{files: make(map[string]*machoSymbolizer)}
}

// Resolve looks up a single address
func (r *MachoReader) Resolve(ctx context.Context, q Query) (Answer, error) {
	answers, err := r.ResolveBatch(ctx, []Query{q})
	if err != nil {
		return Answer{}, err
	}
	if !answers[0].Found {
		return Answer{}, ErrNotFound
	}
	return answers[0], nil
}

// ResolveBatch looks up addresses that all belong to the first query's bundle
func (r *MachoReader) ResolveBatch(ctx context.Context, qs []Query) ([]Answer, error) {
	if len(qs) == 0 {
		return nil, nil
	}
	s, err := r.symbolizer(qs[0])
	if err != nil {
		return nil, err
	}
	answers := make([]Answer, len(qs))
	for i, q := range qs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		answers[i] = s.lookup(s.text + q.Offset)
	}
	return answers, nil
}

// Close releases every opened file
func (r *MachoReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for key, s := range r.files {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
		delete(r.files, key)
	}
	return first
}

func (r *MachoReader) symbolizer(q Query) (*machoSymbolizer, error) {
	paths := []string{q.Bundle.Path}
	if q.Bundle.BinaryPath != "" && q.Bundle.BinaryPath != q.Bundle.Path {
		paths = append(paths, q.Bundle.BinaryPath)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for _, path := range paths {
		if path == "" {
			continue
		}
		key := path + "|" + q.UUID
		if s, ok := r.files[key]; ok {
			return s, nil
		}
		s, err := openSymbolizer(path, q.UUID)
		if err != nil {
			log.WithError(err).WithField("path", path).Debug("cannot read debug info")
			lastErr = err
			continue
		}
		if r.files == nil {
			r.files = make(map[string]*machoSymbolizer)
		}
		r.files[key] = s
		return s, nil
	}
	if lastErr == nil {
		lastErr = errors.Wrapf(ErrNotFound, "no debug file for %s", q.UUID)
	}
	return nil, lastErr
}

type addrRange struct {
	low   uint64
	high  uint64
	entry *dwf.Entry
}

type lineTable struct {
	entries []dwf.LineEntry
}

type machoSymbolizer struct {
	closer io.Closer
	dw     *dwf.Data
	text   uint64
	syms   []macho.Symbol

	cuRanges []addrRange

	mu    sync.Mutex
	lines map[dwf.Offset]*lineTable
	subs  map[dwf.Offset][]addrRange
}

// openSymbolizer opens the slice of path whose LC_UUID is uuid
func openSymbolizer(path, uuid string) (*machoSymbolizer, error) {
	var (
		m      *macho.File
		closer io.Closer
		seen   []string
	)

	fat, err := macho.OpenFat(path)
	switch {
	case err == nil:
		for _, arch := range fat.Arches {
			if u := arch.File.UUID(); u != nil {
				seen = append(seen, u.UUID.String())
				if crashlog.SameUUID(u.UUID.String(), uuid) {
					m = arch.File
					break
				}
			}
		}
		closer = fat
	case errors.Is(err, macho.ErrNotFat):
		m, err = macho.Open(path)
		if err != nil {
			return nil, &ToolError{Tool: "macho", Err: errors.Wrapf(err, "failed to open %s", path)}
		}
		closer = m
		if u := m.UUID(); u != nil {
			seen = append(seen, u.UUID.String())
			if !crashlog.SameUUID(u.UUID.String(), uuid) {
				m = nil
			}
		}
	default:
		return nil, &ToolError{Tool: "macho", Err: errors.Wrapf(err, "failed to open %s", path)}
	}

	if m == nil {
		closer.Close()
		return nil, errors.Wrapf(ErrUUIDMismatch, "%s has %s, want %s", path, strings.Join(seen, ","), uuid)
	}

	s := &machoSymbolizer{
		closer: closer,
		lines:  make(map[dwf.Offset]*lineTable),
		subs:   make(map[dwf.Offset][]addrRange),
	}
	if seg := m.Segment("__TEXT"); seg != nil {
		s.text = seg.Addr
	}
	if m.Symtab != nil {
		for _, sym := range m.Symtab.Syms {
			// skip stabs and undefined symbols
			if sym.Sect == 0 || sym.Value == 0 || sym.Name == "" || uint8(sym.Type)&0xe0 != 0 {
				continue
			}
			s.syms = append(s.syms, sym)
		}
		sort.Slice(s.syms, func(i, j int) bool {
			return s.syms[i].Value < s.syms[j].Value
		})
	}
	if dw, err := m.DWARF(); err == nil {
		s.dw = dw
		s.buildIndex()
	} else {
		log.WithError(err).WithField("path", path).Debug("no DWARF, using symbol table only")
	}

	return s, nil
}

func (s *machoSymbolizer) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func (s *machoSymbolizer) buildIndex() {
	r := s.dw.Reader()
	for {
		entry, err := r.Next()
		if err != nil || entry == nil {
			break
		}
		if entry.Tag != dwf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		ranges, err := s.dw.Ranges(entry)
		if err != nil {
			r.SkipChildren()
			continue
		}
		for _, rng := range ranges {
			s.cuRanges = append(s.cuRanges, addrRange{low: rng[0], high: rng[1], entry: entry})
		}
		r.SkipChildren()
	}
	sort.Slice(s.cuRanges, func(i, j int) bool {
		return s.cuRanges[i].low < s.cuRanges[j].low
	})
}

func findRange(ranges []addrRange, pc uint64) *dwf.Entry {
	idx := sort.Search(len(ranges), func(i int) bool {
		return ranges[i].high > pc
	})
	if idx < len(ranges) && ranges[idx].low <= pc {
		return ranges[idx].entry
	}
	return nil
}

func (s *machoSymbolizer) lookup(pc uint64) Answer {
	var a Answer
	if s.dw != nil {
		if cu := findRange(s.cuRanges, pc); cu != nil {
			if fn := findRange(s.subprograms(cu), pc); fn != nil {
				a.Function = funcName(fn)
			}
			if le, ok := s.line(cu, pc); ok {
				a.File = le.File.Name
				a.Line = le.Line
			}
		}
	}
	if a.Function == "" {
		a.Function = s.symbol(pc)
	}
	a.Found = a.Function != ""
	if !a.Found {
		a.File, a.Line = "", 0
	}
	return a
}

func funcName(e *dwf.Entry) string {
	if name, ok := e.Val(dwf.AttrName).(string); ok {
		return name
	}
	if name, ok := e.Val(dwf.AttrLinkageName).(string); ok {
		return name
	}
	return ""
}

func (s *machoSymbolizer) subprograms(cu *dwf.Entry) []addrRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	if subs, ok := s.subs[cu.Offset]; ok {
		return subs
	}

	var subs []addrRange
	r := s.dw.Reader()
	r.Seek(cu.Offset)
	r.Next() // the CU itself
	for {
		entry, err := r.Next()
		if err != nil || entry == nil || entry.Tag == 0 {
			break
		}
		if entry.Tag == dwf.TagSubprogram {
			if ranges, err := s.dw.Ranges(entry); err == nil {
				for _, rng := range ranges {
					subs = append(subs, addrRange{low: rng[0], high: rng[1], entry: entry})
				}
			}
		}
		if entry.Children {
			r.SkipChildren()
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].low < subs[j].low
	})
	s.subs[cu.Offset] = subs
	return subs
}

func (s *machoSymbolizer) line(cu *dwf.Entry, pc uint64) (dwf.LineEntry, bool) {
	s.mu.Lock()
	lt, ok := s.lines[cu.Offset]
	s.mu.Unlock()
	if !ok {
		lt = &lineTable{}
		if lr, err := s.dw.LineReader(cu); err == nil && lr != nil {
			var le dwf.LineEntry
			for lr.Next(&le) == nil {
				lt.entries = append(lt.entries, le)
			}
		}
		sort.SliceStable(lt.entries, func(i, j int) bool {
			return lt.entries[i].Address < lt.entries[j].Address
		})
		s.mu.Lock()
		s.lines[cu.Offset] = lt
		s.mu.Unlock()
	}

	idx := sort.Search(len(lt.entries), func(i int) bool {
		return lt.entries[i].Address > pc
	})
	if idx == 0 {
		return dwf.LineEntry{}, false
	}
	le := lt.entries[idx-1]
	if le.EndSequence || le.File == nil || le.Line == 0 {
		return dwf.LineEntry{}, false
	}
	return le, true
}

// symbol returns the closest symbol table entry at or below pc
func (s *machoSymbolizer) symbol(pc uint64) string {
	idx := sort.Search(len(s.syms), func(i int) bool {
		return s.syms[i].Value > pc
	})
	if idx == 0 {
		return ""
	}
	return cSymbol(s.syms[idx-1].Name)
}

// cSymbol drops the underscore Mach-O prepends to C symbols
func cSymbol(name string) string {
	if strings.HasPrefix(name, "_") && !strings.HasPrefix(name, "__") && !strings.HasPrefix(name, "_$") {
		return name[1:]
	}
	return name
}
