// Package symbolicate runs batches of crash reports through parsing and symbol resolution.
package symbolicate

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/yafengV/CrashParser/internal/config"
	"github.com/yafengV/CrashParser/internal/utils"
	"github.com/yafengV/CrashParser/pkg/crashlog"
	"github.com/yafengV/CrashParser/pkg/dsym"
	sym "github.com/yafengV/CrashParser/pkg/symbolicate"
	"golang.org/x/sync/errgroup"
)

// Config is the pipeline config
type Config struct {
	Workers        int
	Timeout        time.Duration
	CacheSize      int
	BatchSize      int
	RefineEmbedded bool
	Demangle       bool

	// OnReport is called once per report as soon as it is resolved.
	// Calls are serialized.
	OnReport func(ReportResult)
}

// NewConfig maps the loaded configuration onto a pipeline config
func NewConfig(c *config.Config) *Config {
	return &Config{
		Workers:        c.Symbolicate.Workers,
		Timeout:        c.Symbolicate.Timeout,
		CacheSize:      c.Symbolicate.CacheSize,
		BatchSize:      c.Symbolicate.BatchSize,
		RefineEmbedded: c.Symbolicate.RefineEmbedded,
		Demangle:       c.Symbolicate.Demangle,
	}
}

// Input is one crash report file or upload
type Input struct {
	Name string
	Data []byte
}

// InputError records an input that could not be read or parsed
type InputError struct {
	Input string
	Err   error
}

func (e InputError) Error() string {
	return fmt.Sprintf("%s: %v", e.Input, e.Err)
}

// MarshalText lets InputError serialize with its message
func (e InputError) MarshalText() ([]byte, error) {
	return []byte(e.Error()), nil
}

// ReportResult is one symbolicated report
type ReportResult struct {
	Input string `json:"input"`
	// Index is the report's position inside its input (MetricKit payloads hold several)
	Index   int                   `json:"index"`
	Report  *crashlog.CrashReport `json:"report"`
	Summary sym.Summary           `json:"summary"`
}

// Result is the outcome of one pipeline run
type Result struct {
	Reports []ReportResult `json:"reports"`
	Summary sym.Summary    `json:"summary"`
	Errors  []InputError   `json:"errors,omitempty"`
}

// Pipeline parses and resolves crash reports
type Pipeline struct {
	conf   *Config
	reader sym.Reader
	index  sym.SymbolIndex
}

// New returns a pipeline resolving through reader with symbols from index
func New(conf *Config, reader sym.Reader, index sym.SymbolIndex) *Pipeline {
	if conf == nil {
		conf = &Config{}
	}
	return &Pipeline{conf: conf, reader: reader, index: index}
}

// Run parses and resolves every input. Inputs are processed in parallel, one
// goroutine per report; results keep input order. Parse failures are recorded
// on the result and never stop the batch. When ctx is canceled Run returns the
// partial result together with ctx.Err().
func (p *Pipeline) Run(ctx context.Context, inputs []Input) (*Result, error) {
	cache, err := sym.NewCache(p.conf.CacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create symbol cache")
	}
	resolver := sym.NewResolver(p.reader,
		sym.WithCache(cache),
		sym.WithTimeout(p.conf.Timeout),
		sym.WithBatchSize(p.conf.BatchSize),
		sym.WithRefineEmbedded(p.conf.RefineEmbedded),
		sym.WithDemangle(p.conf.Demangle),
	)

	reports := make([][]ReportResult, len(inputs))
	failures := make([]*InputError, len(inputs))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(max(p.conf.Workers, 1))
	for i, in := range inputs {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			parsed, err := crashlog.Parse(in.Data)
			if err != nil {
				log.WithError(err).WithField("input", in.Name).Warn("skipping unparsable crash report")
				failures[i] = &InputError{Input: in.Name, Err: err}
				return nil
			}
			for j, r := range parsed {
				rr := ReportResult{
					Input:   in.Name,
					Index:   j,
					Report:  r,
					Summary: resolver.Resolve(ctx, r, p.index),
				}
				log.WithFields(log.Fields{
					"input":    in.Name,
					"report":   j,
					"resolved": rr.Summary.Resolved(),
					"total":    rr.Summary.Total,
				}).Debug("symbolicated report")
				reports[i] = append(reports[i], rr)
				if p.conf.OnReport != nil {
					mu.Lock()
					p.conf.OnReport(rr)
					mu.Unlock()
				}
			}
			return nil
		})
	}
	_ = g.Wait() // workers never fail

	res := &Result{Summary: sym.NewSummary()}
	for i := range inputs {
		if failures[i] != nil {
			res.Errors = append(res.Errors, *failures[i])
		}
		for _, rr := range reports[i] {
			res.Reports = append(res.Reports, rr)
			res.Summary.Merge(rr.Summary)
		}
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// RunFiles reads each path and runs the pipeline over them. Unreadable files
// are recorded as input errors.
func (p *Pipeline) RunFiles(ctx context.Context, paths []string) (*Result, error) {
	var (
		inputs []Input
		bad    []InputError
	)
	for _, path := range paths {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			bad = append(bad, InputError{Input: path, Err: errors.Wrap(err, "failed to read crash report")})
			continue
		}
		inputs = append(inputs, Input{Name: path, Data: data})
	}
	res, err := p.Run(ctx, inputs)
	if res != nil {
		res.Errors = append(bad, res.Errors...)
	}
	return res, err
}

// BuildIndex merges the dSYM bundles found under dirs, inside the given
// .xcarchive folders and in an explicit uuid -> path mapping into one index.
func BuildIndex(dirs, archives []string, mapping map[string]string) (*dsym.Index, error) {
	idx, err := dsym.Scan(dirs...)
	if err != nil {
		return nil, err
	}
	for _, path := range archives {
		a, err := dsym.OpenArchive(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open archive %s", path)
		}
		log.WithFields(log.Fields{
			"app":   a.App.CFBundleIdentifier,
			"dsyms": len(a.DSYMs),
			"uuids": a.Index.Len(),
		}).Debug("indexed archive")
		for _, d := range a.DSYMs {
			utils.Indent(log.Debug, 2)(d)
		}
		idx.Merge(a.Index)
	}
	if len(mapping) > 0 {
		m, err := dsym.FromMap(mapping)
		if err != nil {
			return nil, err
		}
		idx.Merge(m)
	}
	return idx, nil
}

// NewReader returns the symbol reader selected by the configuration.
// The closer releases files held by the reader.
func NewReader(c *config.Config) (sym.Reader, io.Closer) {
	if c.Symbolicate.Reader == config.ReaderMacho {
		r := sym.NewMachoReader()
		return r, r
	}
	return sym.NewAtosReader(c.Symbolicate.AtosPath, c.Archs()...), nopCloser{}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Footer is the symbolication summary appended to text output
func Footer(rr ReportResult) string {
	var sb strings.Builder
	sb.WriteString("Symbolication:\n")
	fmt.Fprintf(&sb, "  Input:    %s\n", rr.Input)
	if rr.Report.Metadata.ProcessName != "" {
		fmt.Fprintf(&sb, "  Process:  %s\n", rr.Report.Metadata.ProcessName)
	}
	fmt.Fprintf(&sb, "  Frames:   %d\n", rr.Summary.Total)
	fmt.Fprintf(&sb, "  Resolved: %d\n", rr.Summary.Resolved())
	fmt.Fprintf(&sb, "  Failed:   %d\n", rr.Summary.Unresolved())
	return sb.String()
}

// WriteText writes every report of res as symbolicated .crash text
func WriteText(w io.Writer, res *Result, footer bool) error {
	for i, rr := range res.Reports {
		if i > 0 {
			fmt.Fprintln(w)
		}
		opts := crashlog.WriteOptions{Symbolicated: true}
		if footer {
			opts.Footer = Footer(rr)
		}
		if err := crashlog.WriteLegacy(w, rr.Report, opts); err != nil {
			return err
		}
	}
	return nil
}
