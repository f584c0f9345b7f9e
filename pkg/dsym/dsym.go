// Package dsym indexes debug-symbol bundles by build UUID.
package dsym

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/apex/log"
	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"
	"github.com/pkg/errors"
	"github.com/yafengV/CrashParser/pkg/crashlog"
)

const dwarfDir = "Contents/Resources/DWARF"

// Bundle is one debug-symbol source for a single build UUID
type Bundle struct {
	UUID string        `json:"uuid"`
	Arch crashlog.Arch `json:"arch,omitempty"`
	Name string        `json:"name"`
	// Path is the Mach-O holding the debug info (usually the DWARF file inside a .dSYM)
	Path string `json:"path"`
	// BinaryPath is the matching executable, used when Path yields nothing
	BinaryPath string `json:"binary_path,omitempty"`
}

// Index maps canonical build UUIDs to bundles. It is safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	bundles map[string]Bundle
}

// NewIndex returns an empty index
func NewIndex() *Index {
	return &Index{bundles: make(map[string]Bundle)}
}

// FromMap builds an index from an explicit uuid -> path mapping
func FromMap(m map[string]string) (*Index, error) {
	idx := NewIndex()
	for id, path := range m {
		if err := idx.Add(Bundle{UUID: id, Name: filepath.Base(path), Path: path}); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// Add stores b under its canonical UUID. A UUID that is already present keeps
// its first bundle; only a missing BinaryPath is filled in from b.
func (i *Index) Add(b Bundle) error {
	id, err := crashlog.CanonicalUUID(b.UUID)
	if err != nil {
		return errors.Wrapf(err, "bundle %s", b.Path)
	}
	b.UUID = id

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.bundles == nil {
		i.bundles = make(map[string]Bundle)
	}
	if prev, ok := i.bundles[id]; ok {
		if prev.BinaryPath == "" && b.BinaryPath != "" {
			prev.BinaryPath = b.BinaryPath
			i.bundles[id] = prev
		}
		return nil
	}
	i.bundles[id] = b
	return nil
}

// Lookup returns the bundle for uuid after canonicalization
func (i *Index) Lookup(uuid string) (Bundle, bool) {
	if i == nil {
		return Bundle{}, false
	}
	id, err := crashlog.CanonicalUUID(uuid)
	if err != nil {
		return Bundle{}, false
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	b, ok := i.bundles[id]
	return b, ok
}

// Len returns the number of indexed UUIDs
func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.bundles)
}

// Bundles returns all bundles sorted by name then UUID
func (i *Index) Bundles() []Bundle {
	i.mu.RLock()
	out := make([]Bundle, 0, len(i.bundles))
	for _, b := range i.bundles {
		out = append(out, b)
	}
	i.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool {
		if out[a].Name != out[b].Name {
			return out[a].Name < out[b].Name
		}
		return out[a].UUID < out[b].UUID
	})
	return out
}

// Merge adds every bundle of o to i
func (i *Index) Merge(o *Index) {
	if o == nil {
		return
	}
	for _, b := range o.Bundles() {
		_ = i.Add(b) // already canonical
	}
}

// archOf maps a Mach-O header to the architecture name crash reports use
func archOf(m *macho.File) crashlog.Arch {
	sub := types.CPUSubtype(uint32(m.SubCPU) & 0x00ffffff)
	switch m.CPU {
	case types.CPUArm64:
		if sub == types.CPUSubtypeArm64E {
			return crashlog.ArchARM64e
		}
		return crashlog.ArchARM64
	case types.CPUArm6432:
		return crashlog.ArchARM6432
	case types.CPUArm:
		if sub == types.CPUSubtypeArmV7S {
			return crashlog.ArchARMv7s
		}
		return crashlog.ArchARMv7
	case types.CPUAmd64:
		if sub == types.CPUSubtypeX86_64H {
			return crashlog.ArchX86_64h
		}
		return crashlog.ArchX86_64
	case types.CPUI386:
		return crashlog.ArchI386
	}
	return crashlog.ArchUnknown
}

// ReadUUIDs returns one bundle per architecture slice of the Mach-O at path
func ReadUUIDs(path string) ([]Bundle, error) {
	var files []*macho.File

	fat, err := macho.OpenFat(path)
	if err == nil {
		defer fat.Close()
		for _, arch := range fat.Arches {
			files = append(files, arch.File)
		}
	} else if errors.Is(err, macho.ErrNotFat) {
		m, err := macho.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open MachO %s", path)
		}
		defer m.Close()
		files = append(files, m)
	} else {
		return nil, errors.Wrapf(err, "failed to open MachO %s", path)
	}

	var bundles []Bundle
	for _, m := range files {
		u := m.UUID()
		if u == nil {
			log.WithField("path", path).Debug("MachO slice has no LC_UUID")
			continue
		}
		bundles = append(bundles, Bundle{
			UUID: u.UUID.String(),
			Arch: archOf(m),
			Name: filepath.Base(path),
			Path: path,
		})
	}
	if len(bundles) == 0 {
		return nil, errors.Errorf("no LC_UUID found in %s", path)
	}

	return bundles, nil
}

// ScanBundle indexes the DWARF files inside one .dSYM bundle
func ScanBundle(idx *Index, dsymPath string) error {
	entries, err := os.ReadDir(filepath.Join(dsymPath, dwarfDir))
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", dsymPath)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dsymPath, dwarfDir, e.Name())
		bundles, err := ReadUUIDs(path)
		if err != nil {
			log.WithError(err).WithField("path", path).Warn("skipping DWARF file")
			continue
		}
		for _, b := range bundles {
			b.Name = strings.TrimSuffix(filepath.Base(dsymPath), ".dSYM")
			if err := idx.Add(b); err != nil {
				return err
			}
			log.WithFields(log.Fields{
				"uuid": b.UUID,
				"arch": b.Arch,
				"name": b.Name,
			}).Debug("indexed dSYM")
		}
	}
	return nil
}

// Scan walks dirs for .dSYM bundles and .xcarchive folders and indexes every UUID found
func Scan(dirs ...string) (*Index, error) {
	idx := NewIndex()
	for _, dir := range dirs {
		if err := scanDir(idx, dir); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func scanDir(idx *Index, root string) error {
	if _, err := os.Stat(root); err != nil {
		return errors.Wrapf(err, "failed to scan %s", root)
	}
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			log.WithError(err).WithField("path", path).Warn("skipping unreadable path")
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".dSYM":
			if err := ScanBundle(idx, path); err != nil {
				log.WithError(err).WithField("path", path).Warn("skipping dSYM bundle")
			}
			return filepath.SkipDir
		case ".xcarchive":
			a, err := OpenArchive(path)
			if err != nil {
				log.WithError(err).WithField("path", path).Warn("skipping archive")
				return filepath.SkipDir
			}
			idx.Merge(a.Index)
			return filepath.SkipDir
		}
		return nil
	})
}
