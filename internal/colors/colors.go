// Package colors provides centralized color output with TTY-aware defaults.
//
// Colors are automatically disabled when stdout is not a terminal (piped or
// redirected to a file). This behavior is provided by the underlying fatih/color
// library and respected by default. Use Init() to override based on CLI flags.
package colors

import "github.com/fatih/color"

// Init allows overriding the auto-detected color setting.
//   - forceColor == nil: keep auto-detected value (recommended default)
//   - forceColor == true: force colors on (e.g., --color flag)
//   - forceColor == false: force colors off (e.g., --no-color flag)
func Init(forceColor *bool) {
	if forceColor != nil {
		color.NoColor = !*forceColor
	}
}

// Enabled returns true if colors are currently enabled.
func Enabled() bool {
	return !color.NoColor
}

func Faint() *color.Color { return color.New(color.Faint) }

func BoldHiRed() *color.Color     { return color.New(color.Bold, color.FgHiRed) }
func BoldHiGreen() *color.Color   { return color.New(color.Bold, color.FgHiGreen) }
func BoldHiYellow() *color.Color  { return color.New(color.Bold, color.FgHiYellow) }
func BoldHiBlue() *color.Color    { return color.New(color.Bold, color.FgHiBlue) }
func BoldHiMagenta() *color.Color { return color.New(color.Bold, color.FgHiMagenta) }
func BoldHiCyan() *color.Color    { return color.New(color.Bold, color.FgHiCyan) }

func FaintYellow() *color.Color { return color.New(color.Faint, color.FgYellow) }

// Outcome returns the color used for a frame resolution outcome name:
// green for resolved, cyan for embedded, yellow for missing data and red for
// tool failures. Unknown names render faint.
func Outcome(name string) *color.Color {
	switch name {
	case "resolved":
		return BoldHiGreen()
	case "embedded":
		return BoldHiCyan()
	case "no-image", "no-symbol", "negative-offset":
		return BoldHiYellow()
	case "tool-failure":
		return BoldHiRed()
	}
	return Faint()
}
