package crashlog

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Arch is a CPU architecture as it is spelled in crash reports
type Arch string

const (
	ArchUnknown Arch = ""
	ArchARM64   Arch = "arm64"
	ArchARM64e  Arch = "arm64e"
	ArchARM6432 Arch = "arm64_32"
	ArchARMv7   Arch = "armv7"
	ArchARMv7s  Arch = "armv7s"
	ArchX86_64  Arch = "x86_64"
	ArchX86_64h Arch = "x86_64h"
	ArchI386    Arch = "i386"
)

// ParseArch normalizes an architecture string
func ParseArch(s string) Arch {
	return Arch(strings.ToLower(strings.TrimSpace(s)))
}

// Known reports whether a is one of the architectures this package knows about
func (a Arch) Known() bool {
	switch a {
	case ArchARM64, ArchARM64e, ArchARM6432, ArchARMv7, ArchARMv7s, ArchX86_64, ArchX86_64h, ArchI386:
		return true
	}
	return false
}

func (a Arch) String() string {
	if a == ArchUnknown {
		return "unknown"
	}
	return string(a)
}

var (
	// ErrDuplicateUUID is returned when an image with the same UUID is already in the table
	ErrDuplicateUUID = errors.New("duplicate image UUID")
	// ErrImageNotFound is returned when no image matches a lookup
	ErrImageNotFound = errors.New("image not found")
	// ErrInvalidUUID is returned for text that is not a 128-bit build identifier
	ErrInvalidUUID = errors.New("invalid UUID")
	// ErrInvalidRange is returned when an image ends before it starts
	ErrInvalidRange = errors.New("invalid image address range")
)

// CanonicalUUID normalizes a build UUID to upper-case hyphenated hex.
// Case, hyphens, braces and angle brackets in the input are ignored.
func CanonicalUUID(s string) (string, error) {
	hex := strings.Trim(strings.TrimSpace(s), "<>{}")
	hex = strings.ReplaceAll(hex, "-", "")
	if len(hex) != 32 {
		return "", errors.Wrapf(ErrInvalidUUID, "%q", s)
	}
	u, err := uuid.Parse(hex)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidUUID, "%q: %v", s, err)
	}
	return strings.ToUpper(u.String()), nil
}

// SameUUID reports whether a and b name the same build after canonicalization
func SameUUID(a, b string) bool {
	ca, err := CanonicalUUID(a)
	if err != nil {
		return false
	}
	cb, err := CanonicalUUID(b)
	if err != nil {
		return false
	}
	return ca == cb
}

// BinaryImage is a binary loaded into the crashed process
type BinaryImage struct {
	Name             string `json:"name"`
	Arch             Arch   `json:"arch,omitempty"`
	UUID             string `json:"uuid"`
	LoadAddressStart uint64 `json:"load_address_start"`
	LoadAddressEnd   uint64 `json:"load_address_end"`
	Version          string `json:"version,omitempty"`
	Path             string `json:"path,omitempty"`
}

// Contains reports whether addr falls in the image's load range (inclusive)
func (i BinaryImage) Contains(addr uint64) bool {
	return addr >= i.LoadAddressStart && addr <= i.LoadAddressEnd
}

// Span is End - Start. It is one less than the byte count so the full
// 64-bit range does not wrap to zero.
func (i BinaryImage) Span() uint64 {
	return i.LoadAddressEnd - i.LoadAddressStart
}

func (i BinaryImage) String() string {
	return fmt.Sprintf("%#x - %#x %s %s <%s> %s", i.LoadAddressStart, i.LoadAddressEnd, i.Name, i.Arch, i.UUID, i.Path)
}

// ImageTable is the set of binary images of one crash report, keyed by UUID.
// The zero value is ready to use.
type ImageTable struct {
	images []BinaryImage
	byUUID map[string]int
}

// NewImageTable returns an empty image table
func NewImageTable() *ImageTable {
	return &ImageTable{byUUID: make(map[string]int)}
}

// AddImage stores img with its UUID canonicalized.
func (t *ImageTable) AddImage(img BinaryImage) error {
	id, err := CanonicalUUID(img.UUID)
	if err != nil {
		return err
	}
	if img.LoadAddressStart > img.LoadAddressEnd {
		return errors.Wrapf(ErrInvalidRange, "%s: %#x > %#x", img.Name, img.LoadAddressStart, img.LoadAddressEnd)
	}
	if t.byUUID == nil {
		t.byUUID = make(map[string]int)
	}
	if _, ok := t.byUUID[id]; ok {
		return errors.Wrapf(ErrDuplicateUUID, "%s (%s)", id, img.Name)
	}
	img.UUID = id
	t.byUUID[id] = len(t.images)
	t.images = append(t.images, img)
	return nil
}

// Lookup returns the image with the given UUID
func (t *ImageTable) Lookup(id string) (BinaryImage, error) {
	cid, err := CanonicalUUID(id)
	if err != nil {
		return BinaryImage{}, errors.Wrap(ErrImageNotFound, err.Error())
	}
	idx, ok := t.byUUID[cid]
	if !ok {
		return BinaryImage{}, errors.Wrapf(ErrImageNotFound, "uuid %s", cid)
	}
	return t.images[idx], nil
}

// LookupByAddress returns the image whose load range contains addr.
// Overlapping candidates resolve to the narrowest range, then the first inserted.
func (t *ImageTable) LookupByAddress(addr uint64) (BinaryImage, error) {
	best := -1
	for idx, img := range t.images {
		if !img.Contains(addr) {
			continue
		}
		if best < 0 || img.Span() < t.images[best].Span() {
			best = idx
		}
	}
	if best < 0 {
		return BinaryImage{}, errors.Wrapf(ErrImageNotFound, "address %#x", addr)
	}
	return t.images[best], nil
}

// Images returns the images in insertion order
func (t *ImageTable) Images() []BinaryImage {
	out := make([]BinaryImage, len(t.images))
	copy(out, t.images)
	return out
}

// Len returns the number of images
func (t *ImageTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.images)
}

func (t *ImageTable) MarshalJSON() ([]byte, error) {
	if t == nil || t.images == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t.images)
}

func (t *ImageTable) UnmarshalJSON(data []byte) error {
	var images []BinaryImage
	if err := json.Unmarshal(data, &images); err != nil {
		return err
	}
	*t = ImageTable{}
	for _, img := range images {
		if err := t.AddImage(img); err != nil {
			return err
		}
	}
	return nil
}
