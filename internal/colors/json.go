package colors

import (
	"fmt"
	"io"

	"github.com/alecthomas/chroma/v2/quick"
)

// WriteJSON writes dat followed by a newline, syntax highlighted for a
// 256-color terminal when highlight is set
func WriteJSON(w io.Writer, dat []byte, highlight bool) error {
	if highlight {
		if err := quick.Highlight(w, string(dat)+"\n", "json", "terminal256", "nord"); err != nil {
			return fmt.Errorf("failed to highlight json: %v", err)
		}
		return nil
	}
	_, err := fmt.Fprintln(w, string(dat))
	return err
}
