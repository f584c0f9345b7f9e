package dsym

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/blacktop/go-plist"
	"github.com/pkg/errors"
)

// AppInfo is the subset of an .app Info.plist needed to locate its binary
// https://developer.apple.com/documentation/bundleresources/information_property_list
type AppInfo struct {
	CFBundleExecutable         string `plist:"CFBundleExecutable,omitempty" json:"executable,omitempty"`
	CFBundleIdentifier         string `plist:"CFBundleIdentifier,omitempty" json:"identifier,omitempty"`
	CFBundleName               string `plist:"CFBundleName,omitempty" json:"name,omitempty"`
	CFBundleShortVersionString string `plist:"CFBundleShortVersionString,omitempty" json:"version,omitempty"`
	CFBundleVersion            string `plist:"CFBundleVersion,omitempty" json:"build,omitempty"`
}

// ParseAppInfo parses the .app/Info.plist
func ParseAppInfo(data []byte) (*AppInfo, error) {
	i := &AppInfo{}
	if err := plist.NewDecoder(bytes.NewReader(data)).Decode(i); err != nil {
		return nil, errors.Wrap(err, "failed to parse Info.plist")
	}
	return i, nil
}

// Archive is an Xcode .xcarchive with its app and dSYMs indexed
type Archive struct {
	Path       string   `json:"path"`
	App        AppInfo  `json:"app"`
	AppPath    string   `json:"app_path"`
	BinaryPath string   `json:"binary_path"`
	DSYMs      []string `json:"dsyms"`
	Bundles    []Bundle `json:"bundles"`
	Index      *Index   `json:"-"`
}

// OpenArchive reads Products/Applications/*.app and dSYMs/ of an .xcarchive.
// The app's own binary is attached to each indexed UUID as a fallback source.
func OpenArchive(path string) (*Archive, error) {
	apps, err := filepath.Glob(filepath.Join(path, "Products", "Applications", "*.app"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to search %s", path)
	}
	if len(apps) == 0 {
		return nil, errors.Errorf("no .app found in %s", filepath.Join(path, "Products", "Applications"))
	}

	a := &Archive{
		Path:    path,
		AppPath: apps[0],
		Index:   NewIndex(),
	}

	infoPath := filepath.Join(a.AppPath, "Info.plist")
	dat, err := os.ReadFile(infoPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", infoPath)
	}
	info, err := ParseAppInfo(dat)
	if err != nil {
		return nil, err
	}
	a.App = *info

	exe := a.App.CFBundleExecutable
	if exe == "" {
		exe = strings.TrimSuffix(filepath.Base(a.AppPath), ".app")
	}
	a.BinaryPath = filepath.Join(a.AppPath, exe)

	a.DSYMs = findDSYMs(filepath.Join(path, "dSYMs"), filepath.Base(a.AppPath), exe)
	for _, d := range a.DSYMs {
		if err := ScanBundle(a.Index, d); err != nil {
			log.WithError(err).WithField("dsym", d).Warn("skipping archive dSYM")
		}
	}

	// the executable itself is the fallback for its own UUIDs
	if bins, err := ReadUUIDs(a.BinaryPath); err == nil {
		for _, b := range bins {
			if _, ok := a.Index.Lookup(b.UUID); ok {
				_ = a.Index.Add(Bundle{UUID: b.UUID, BinaryPath: a.BinaryPath})
				continue
			}
			b.Name = exe
			b.BinaryPath = a.BinaryPath
			_ = a.Index.Add(b)
		}
	} else {
		log.WithError(err).WithField("binary", a.BinaryPath).Debug("archive binary has no readable UUID")
	}

	a.Bundles = a.Index.Bundles()

	return a, nil
}

// findDSYMs prefers <App>.app.dSYM, then any dSYM mentioning the executable name,
// and finally every dSYM in the folder.
func findDSYMs(dir, appName, exe string) []string {
	all, _ := filepath.Glob(filepath.Join(dir, "*.dSYM"))
	if len(all) == 0 {
		return nil
	}
	exact := filepath.Join(dir, appName+".dSYM")
	var named, rest []string
	for _, d := range all {
		switch {
		case d == exact:
			named = append([]string{d}, named...)
		case strings.Contains(filepath.Base(d), exe):
			named = append(named, d)
		default:
			rest = append(rest, d)
		}
	}
	return append(named, rest...)
}
