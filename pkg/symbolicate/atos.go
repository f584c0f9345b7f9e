package symbolicate

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/yafengV/CrashParser/pkg/crashlog"
)

// DefaultAtosArchs are tried in order when a query's architecture is unknown
var DefaultAtosArchs = []crashlog.Arch{crashlog.ArchARM64e, crashlog.ArchARM64, crashlog.ArchX86_64}

// `func (in Image) (File.m:42)`, `func (in Image) + 12`, `func (File.m:42)` or `func`
var atosLineRE = regexp.MustCompile(`^(?P<func>.+?)(?:\s\(in (?P<image>[^)]+)\))?(?:\s\+\s(?P<off>\d+))?(?:\s\((?P<file>[^():]+):(?P<line>\d+)\))?$`)

// AtosReader resolves addresses by running Apple's atos
type AtosReader struct {
	path  string
	archs []crashlog.Arch
}

// NewAtosReader returns a reader running the atos at path ("atos" from $PATH when empty)
func NewAtosReader(path string, archs ...crashlog.Arch) *AtosReader {
	if path == "" {
		path = "atos"
	}
	if len(archs) == 0 {
		archs = DefaultAtosArchs
	}
	return &AtosReader{path: path, archs: archs}
}

// Resolve looks up a single address
func (r *AtosReader) Resolve(ctx context.Context, q Query) (Answer, error) {
	answers, err := r.ResolveBatch(ctx, []Query{q})
	if err != nil {
		return Answer{}, err
	}
	if !answers[0].Found {
		return Answer{}, ErrNotFound
	}
	return answers[0], nil
}

// ResolveBatch runs atos once per (object, arch) attempt for every address still unresolved.
// The bundle's debug file is tried before the app binary.
func (r *AtosReader) ResolveBatch(ctx context.Context, qs []Query) ([]Answer, error) {
	if len(qs) == 0 {
		return nil, nil
	}
	q := qs[0]

	objects := []string{q.Bundle.Path}
	if q.Bundle.BinaryPath != "" && q.Bundle.BinaryPath != q.Bundle.Path {
		objects = append(objects, q.Bundle.BinaryPath)
	}
	archs := r.archs
	if q.Arch.Known() {
		archs = []crashlog.Arch{q.Arch}
	}

	answers := make([]Answer, len(qs))
	remaining := make([]int, len(qs))
	for i := range qs {
		remaining[i] = i
	}

	var (
		ran     bool
		lastErr error
	)
	for _, obj := range objects {
		if obj == "" {
			continue
		}
		for _, arch := range archs {
			addrs := make([]uint64, len(remaining))
			for i, idx := range remaining {
				addrs[i] = qs[idx].Address
			}
			lines, err := r.run(ctx, arch, obj, q.LoadAddress, addrs)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				log.WithError(err).WithFields(log.Fields{
					"arch":   arch,
					"object": obj,
				}).Debug("atos failed")
				lastErr = err
				continue
			}
			ran = true

			var still []int
			for i, idx := range remaining {
				var a Answer
				if i < len(lines) {
					a = ParseAtosLine(lines[i])
				}
				if a.Found {
					answers[idx] = a
				} else {
					still = append(still, idx)
				}
			}
			remaining = still
			if len(remaining) == 0 {
				return answers, nil
			}
		}
	}
	if !ran && lastErr != nil {
		return nil, lastErr
	}
	return answers, nil
}

func (r *AtosReader) run(ctx context.Context, arch crashlog.Arch, object string, load uint64, addrs []uint64) ([]string, error) {
	args := []string{"-arch", arch.String(), "-o", object, "-l", fmt.Sprintf("%#x", load)}
	for _, addr := range addrs {
		args = append(args, fmt.Sprintf("%#x", addr))
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug(cmd.String())

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ToolError{Tool: "atos", Err: err, Stderr: strings.TrimSpace(stderr.String())}
	}

	var lines []string
	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, &ToolError{Tool: "atos", Err: errors.Wrap(err, "failed to read output")}
	}
	return lines, nil
}

// ParseAtosLine parses one line of atos output. Lines that only echo the
// address, or read `??`, are not found.
func ParseAtosLine(line string) Answer {
	line = strings.TrimSpace(line)
	if line == "" || line == "??" || strings.HasPrefix(line, "0x") {
		return Answer{}
	}
	m := atosLineRE.FindStringSubmatch(line)
	if m == nil {
		return Answer{}
	}
	a := Answer{
		Function: strings.TrimSpace(m[atosLineRE.SubexpIndex("func")]),
		File:     m[atosLineRE.SubexpIndex("file")],
	}
	if l := m[atosLineRE.SubexpIndex("line")]; l != "" {
		a.Line, _ = strconv.Atoi(l)
	}
	a.Found = a.Function != "" && a.Function != "??"
	return a
}
