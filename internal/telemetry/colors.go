package telemetry

import (
	"path"
	"strings"

	"github.com/hudlink/hudlink/pkg/core"
)

// Affiliation type codes.
const (
	TypeFriendly = "a-f-G"
	TypeHostile  = "a-h-G"
	TypeNeutral  = "a-n-G"
	TypeUnknown  = "a-u-G"

	// DefaultType is used when an item has neither a type nor an icon.
	DefaultType = "marker"
)

var affiliationColors = map[string]core.RGB{
	TypeFriendly: core.ColorFriendly,
	TypeHostile:  core.ColorHostile,
	TypeNeutral:  core.ColorNeutral,
	TypeUnknown:  core.ColorUnknown,
}

// ColorFor maps an affiliation code to its display color. Unrecognised codes
// get the unknown color.
func ColorFor(typeCode string) core.RGB {
	if c, ok := affiliationColors[typeCode]; ok {
		return c
	}
	return core.ColorUnknown
}

// ItemType returns the item's type code, falling back to the icon file name
// without ".png" and then to DefaultType.
func ItemType(item PointItem) string {
	if item.Type != "" {
		return item.Type
	}
	if item.IconPath != "" {
		if base := strings.TrimSuffix(path.Base(item.IconPath), ".png"); base != "" && base != "." && base != "/" {
			return base
		}
	}
	return DefaultType
}
