package symbolicate

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/yafengV/CrashParser/pkg/crashlog"
	"github.com/yafengV/CrashParser/pkg/dsym"
)

const (
	// DefaultTimeout bounds a single reader call
	DefaultTimeout = 30 * time.Second
	// DefaultBatchSize caps the addresses sent in one batch call
	DefaultBatchSize = 64
)

// Resolver fills in the symbols of a report's frames. A Resolver is safe for
// concurrent use when its Reader and Cache are.
type Resolver struct {
	reader    Reader
	cache     *Cache
	timeout   time.Duration
	batchSize int
	refine    bool
	demangle  bool
}

// Option configures a Resolver
type Option func(*Resolver)

// WithCache shares c between every report resolved
func WithCache(c *Cache) Option {
	return func(r *Resolver) {
		r.cache = c
	}
}

// WithTimeout bounds each reader call; zero disables the bound
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		r.timeout = d
	}
}

// WithBatchSize sets the largest batch sent to a BatchReader
func WithBatchSize(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithRefineEmbedded re-resolves frames that were parsed with a symbol
func WithRefineEmbedded(refine bool) Option {
	return func(r *Resolver) {
		r.refine = refine
	}
}

// WithDemangle demangles resolved C++ and Swift names
func WithDemangle(demangle bool) Option {
	return func(r *Resolver) {
		r.demangle = demangle
	}
}

// NewResolver returns a Resolver querying reader
func NewResolver(reader Reader, opts ...Option) *Resolver {
	r := &Resolver{
		reader:    reader,
		timeout:   DefaultTimeout,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// pending is one distinct (uuid, offset) and the frames waiting on it
type pending struct {
	query  Query
	frames []*crashlog.StackFrame
}

// group holds the pending queries of one image
type group struct {
	uuid    string
	pending []*pending
}

// Resolve symbolicates every unresolved frame of report and returns the
// outcome counts. Per-frame failures are recorded on the frames. When ctx is
// canceled the frames not yet queried keep a nil Symbol.
func (r *Resolver) Resolve(ctx context.Context, report *crashlog.CrashReport, index SymbolIndex) Summary {
	var groups []*group
	byUUID := make(map[string]*group)
	byKey := make(map[cacheKey]*pending)

	for _, t := range report.Threads {
		for _, f := range t.Frames {
			if !r.wants(f) {
				continue
			}

			img, ok := imageFor(report, f)
			if !ok {
				r.set(f, Outcome{Kind: UnresolvedNoImage})
				continue
			}

			bundle, ok := lookupBundle(index, img.UUID)
			if !ok {
				r.set(f, Outcome{Kind: UnresolvedNoSymbol, MismatchedUUID: true, Reason: "no debug symbols for " + img.UUID})
				continue
			}

			var offset uint64
			switch {
			case f.HasOffset():
				offset = *f.Offset
			case f.Address < img.LoadAddressStart:
				log.WithFields(log.Fields{
					"thread":  t.ID,
					"frame":   f.Index,
					"address": f.Address,
					"image":   img.Name,
					"load":    img.LoadAddressStart,
				}).Warn("frame address is below its image load address")
				r.set(f, Outcome{Kind: NegativeOffset})
				continue
			default:
				offset = f.Address - img.LoadAddressStart
				f.SetOffset(offset)
			}

			key := cacheKey{img.UUID, offset}
			if o, ok := r.cache.Get(img.UUID, offset); ok {
				r.set(f, o)
				continue
			}
			if p, ok := byKey[key]; ok {
				p.frames = append(p.frames, f)
				continue
			}

			arch := img.Arch
			if !arch.Known() {
				arch = bundle.Arch
			}
			p := &pending{
				query: Query{
					UUID:        img.UUID,
					Arch:        arch,
					LoadAddress: img.LoadAddressStart,
					Address:     img.LoadAddressStart + offset,
					Offset:      offset,
					Bundle:      bundle,
				},
				frames: []*crashlog.StackFrame{f},
			}
			byKey[key] = p
			g, ok := byUUID[img.UUID]
			if !ok {
				g = &group{uuid: img.UUID}
				byUUID[img.UUID] = g
				groups = append(groups, g)
			}
			g.pending = append(g.pending, p)
		}
	}

	r.run(ctx, groups)

	return Tally(report)
}

func (r *Resolver) wants(f *crashlog.StackFrame) bool {
	if f.Symbol == nil {
		return true
	}
	return r.refine && f.Symbol.Status == crashlog.StatusEmbedded
}

// imageFor finds the image owning f: the attached UUID, then the address, then the image name
func imageFor(report *crashlog.CrashReport, f *crashlog.StackFrame) (crashlog.BinaryImage, bool) {
	if report.Images == nil {
		return crashlog.BinaryImage{}, false
	}
	if f.ImageUUID != "" {
		if img, err := report.Images.Lookup(f.ImageUUID); err == nil {
			return img, true
		}
	}
	if img, err := report.Images.LookupByAddress(f.Address); err == nil {
		return img, true
	}
	if f.ImageName != "" && f.ImageName != "???" {
		for _, img := range report.Images.Images() {
			if img.Name == f.ImageName {
				return img, true
			}
		}
	}
	return crashlog.BinaryImage{}, false
}

func lookupBundle(index SymbolIndex, uuid string) (dsym.Bundle, bool) {
	if index == nil {
		return dsym.Bundle{}, false
	}
	b, ok := index.Lookup(uuid)
	if !ok || !crashlog.SameUUID(b.UUID, uuid) {
		return dsym.Bundle{}, false
	}
	return b, true
}

func (r *Resolver) run(ctx context.Context, groups []*group) {
	for _, g := range groups {
		for start := 0; start < len(g.pending); start += r.batchSize {
			if ctx.Err() != nil {
				log.WithError(ctx.Err()).WithField("uuid", g.uuid).Debug("symbolication canceled")
				return
			}
			end := min(start+r.batchSize, len(g.pending))
			chunk := g.pending[start:end]

			outcomes := r.query(ctx, chunk)
			for i, p := range chunk {
				o := outcomes[i]
				if o.Kind == Canceled {
					continue
				}
				r.cache.Add(p.query.UUID, p.query.Offset, o)
				for _, f := range p.frames {
					r.set(f, o)
				}
			}
		}
	}
}

// query asks the reader about chunk, in one call when it can batch
func (r *Resolver) query(ctx context.Context, chunk []*pending) []Outcome {
	outcomes := make([]Outcome, len(chunk))

	if br, ok := r.reader.(BatchReader); ok && len(chunk) > 1 {
		qs := make([]Query, len(chunk))
		for i, p := range chunk {
			qs[i] = p.query
		}
		log.WithFields(log.Fields{
			"uuid":  qs[0].UUID,
			"count": len(qs),
		}).Debug("resolving batch")
		answers, err := call(ctx, r.timeout, func(cctx context.Context) ([]Answer, error) {
			return br.ResolveBatch(cctx, qs)
		})
		if err == nil && len(answers) != len(qs) {
			err = &ToolError{Tool: "reader", Err: fmt.Errorf("got %d answers for %d queries", len(answers), len(qs))}
		}
		for i := range outcomes {
			if err != nil {
				outcomes[i] = errOutcome(err)
			} else {
				outcomes[i] = answerOutcome(answers[i])
			}
		}
		return outcomes
	}

	for i, p := range chunk {
		if i > 0 && ctx.Err() != nil {
			for j := i; j < len(outcomes); j++ {
				outcomes[j] = Outcome{Kind: Canceled}
			}
			break
		}
		log.WithField("query", p.query.String()).Debug("resolving")
		a, err := call(ctx, r.timeout, func(cctx context.Context) (Answer, error) {
			return r.reader.Resolve(cctx, p.query)
		})
		if err != nil {
			outcomes[i] = errOutcome(err)
			if outcomes[i].Kind == UnresolvedExternalToolFailure {
				log.WithError(err).WithField("query", p.query.String()).Warn("symbol reader failed")
			}
			continue
		}
		outcomes[i] = answerOutcome(a)
	}
	return outcomes
}

// set records o on f. An embedded symbol is only replaced by a resolved one.
func (r *Resolver) set(f *crashlog.StackFrame, o Outcome) {
	if f.Symbol != nil && f.Symbol.Status == crashlog.StatusEmbedded && o.Kind != Resolved {
		return
	}
	if o.Kind == Resolved && r.demangle {
		o.Function = Demangle(o.Function)
	}
	if err := f.SetSymbol(o.Symbol()); err != nil {
		log.WithError(err).Debug("frame already symbolicated")
	}
}

// call runs fn detached from ctx's cancellation and bounded by timeout.
// A reader that ignores its context is abandoned once the timeout expires.
func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	cctx := context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(cctx, timeout)
		defer cancel()
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(cctx)
		done <- result{v, err}
	}()

	select {
	case res := <-done:
		return res.v, res.err
	case <-cctx.Done():
		var zero T
		return zero, cctx.Err()
	}
}
