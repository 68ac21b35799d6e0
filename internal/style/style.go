// Package style implements the style cascade: a Type's controllable
// attributes (defaults, fixed flags, dropdown-driven values) override
// the style fields of the markers and lines using that Type.
package style

import (
	"strconv"

	"github.com/chartwork/mapsync/pkg/mapdata"
)

// Update is the partial style update produced by a resolve pass. Nil
// fields mean "leave unchanged".
type Update struct {
	Colour *string
	Size   *int
	Symbol *string
	Shape  *string
	Width  *int
	Mode   *mapdata.RouteMode
}

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return u.Colour == nil && u.Size == nil && u.Symbol == nil &&
		u.Shape == nil && u.Width == nil && u.Mode == nil
}

// styled is the common style surface of markers and lines.
type styled struct {
	colour string
	size   int
	symbol string
	shape  string
	width  int
	mode   mapdata.RouteMode
	data   map[string]string
}

// ResolveMarker computes the style update the Type forces onto a marker.
func ResolveMarker(m mapdata.Marker, t mapdata.Type) Update {
	return resolve(styled{
		colour: m.Colour,
		size:   m.Size,
		symbol: m.Symbol,
		shape:  m.Shape,
		data:   m.Data,
	}, t)
}

// ResolveLine computes the style update the Type forces onto a line.
func ResolveLine(l mapdata.Line, t mapdata.Type) Update {
	return resolve(styled{
		colour: l.Colour,
		width:  l.Width,
		mode:   l.Mode,
		data:   l.Data,
	}, t)
}

// ApplyToMarker applies an update in place and reports whether any
// field changed.
func ApplyToMarker(m *mapdata.Marker, u Update) bool {
	changed := false
	if u.Colour != nil && m.Colour != *u.Colour {
		m.Colour = *u.Colour
		changed = true
	}
	if u.Size != nil && m.Size != *u.Size {
		m.Size = *u.Size
		changed = true
	}
	if u.Symbol != nil && m.Symbol != *u.Symbol {
		m.Symbol = *u.Symbol
		changed = true
	}
	if u.Shape != nil && m.Shape != *u.Shape {
		m.Shape = *u.Shape
		changed = true
	}
	return changed
}

// ApplyToLine applies an update in place and reports whether any field
// changed.
func ApplyToLine(l *mapdata.Line, u Update) bool {
	changed := false
	if u.Colour != nil && l.Colour != *u.Colour {
		l.Colour = *u.Colour
		changed = true
	}
	if u.Width != nil && l.Width != *u.Width {
		l.Width = *u.Width
		changed = true
	}
	if u.Mode != nil && l.Mode != *u.Mode {
		l.Mode = *u.Mode
		changed = true
	}
	return changed
}

// resolve walks the Type's style controls. For every control the
// effective value is the control default, overridden by the object's
// dropdown selection when the control is dropdown-driven. The value is
// applied when the control is fixed or the object's own field is unset.
func resolve(obj styled, t mapdata.Type) Update {
	var u Update
	for _, ctl := range t.Styles {
		value := ctl.Default
		if ctl.DropdownField != "" {
			if selected, ok := obj.data[ctl.DropdownField]; ok {
				if mapped, ok := ctl.DropdownOptions[selected]; ok {
					value = mapped
				}
			}
		}
		if value == "" {
			continue
		}

		switch ctl.Attribute {
		case mapdata.StyleColour:
			if (ctl.Fixed || obj.colour == "") && obj.colour != value {
				u.Colour = &value
			}
		case mapdata.StyleSymbol:
			if (ctl.Fixed || obj.symbol == "") && obj.symbol != value {
				u.Symbol = &value
			}
		case mapdata.StyleShape:
			if (ctl.Fixed || obj.shape == "") && obj.shape != value {
				u.Shape = &value
			}
		case mapdata.StyleSize:
			n, err := strconv.Atoi(value)
			if err != nil {
				continue
			}
			if (ctl.Fixed || obj.size == 0) && obj.size != n {
				size := n
				u.Size = &size
			}
		case mapdata.StyleWidth:
			n, err := strconv.Atoi(value)
			if err != nil {
				continue
			}
			if (ctl.Fixed || obj.width == 0) && obj.width != n {
				width := n
				u.Width = &width
			}
		case mapdata.StyleMode:
			mode := mapdata.RouteMode(value)
			if (ctl.Fixed || obj.mode == "") && obj.mode != mode {
				u.Mode = &mode
			}
		}
	}
	return u
}
