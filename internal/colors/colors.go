// Package colors wraps fatih/color with the small set of styles the restore
// CLI's lockdownd device-value dump (lockdownd.DeviceValues.String) uses.
//
// Colors are automatically disabled when stdout is not a terminal (piped or
// redirected to a file); that behavior comes from fatih/color itself.
package colors

import "github.com/fatih/color"

// Bold marks the value half of a "key: value" line.
func Bold() *color.Color { return color.New(color.Bold) }

// FaintHiBlue marks the label half of a "key: value" line.
func FaintHiBlue() *color.Color { return color.New(color.Faint, color.FgHiBlue) }
