package symbolicate

import (
	"strings"

	"github.com/blacktop/go-macho/pkg/swift"
	"github.com/ianlancetaylor/demangle"
)

var swiftPrefixes = []string{"_$s", "$s", "_$S", "$S", "_T0", "_$e", "$e"}

// Demangle returns the readable form of a C++ or Swift symbol, or name unchanged
func Demangle(name string) string {
	for _, pre := range swiftPrefixes {
		if strings.HasPrefix(name, pre) {
			if d, err := swift.Demangle(name); err == nil && d != "" {
				return d
			}
			return name
		}
	}
	// Mach-O adds a leading underscore to C symbols
	mangled := name
	if rest, ok := strings.CutPrefix(name, "__Z"); ok {
		mangled = "_Z" + rest
	}
	if strings.HasPrefix(mangled, "_Z") {
		if d, err := demangle.ToString(mangled); err == nil {
			return d
		}
	}
	return name
}
