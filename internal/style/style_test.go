package style

import (
	"testing"

	"github.com/chartwork/mapsync/pkg/mapdata"
)

func markerType(styles ...mapdata.StyleControl) mapdata.Type {
	return mapdata.Type{
		ID:         "t1",
		MapID:      "m1",
		Name:       "poi",
		ObjectKind: mapdata.KindMarker,
		Styles:     styles,
	}
}

func TestResolveMarker_FixedOverridesOwnValue(t *testing.T) {
	typ := markerType(mapdata.StyleControl{
		Attribute: mapdata.StyleColour,
		Fixed:     true,
		Default:   "ff0000",
	})
	m := mapdata.Marker{Colour: "00ff00"}

	u := ResolveMarker(m, typ)
	if u.Colour == nil || *u.Colour != "ff0000" {
		t.Fatalf("expected fixed colour ff0000, got %+v", u)
	}
	if !ApplyToMarker(&m, u) {
		t.Error("expected apply to report a change")
	}
	if m.Colour != "ff0000" {
		t.Errorf("expected marker colour ff0000, got %s", m.Colour)
	}
}

func TestResolveMarker_DefaultOnlyFillsUnset(t *testing.T) {
	typ := markerType(mapdata.StyleControl{
		Attribute: mapdata.StyleColour,
		Default:   "ff0000",
	})

	own := mapdata.Marker{Colour: "00ff00"}
	if u := ResolveMarker(own, typ); u.Colour != nil {
		t.Errorf("non-fixed control must not override a set colour, got %v", *u.Colour)
	}

	unset := mapdata.Marker{}
	u := ResolveMarker(unset, typ)
	if u.Colour == nil || *u.Colour != "ff0000" {
		t.Errorf("expected default colour for unset marker, got %+v", u)
	}
}

func TestResolveMarker_DropdownDrivesStyle(t *testing.T) {
	typ := markerType(mapdata.StyleControl{
		Attribute:     mapdata.StyleSymbol,
		Fixed:         true,
		Default:       "circle",
		DropdownField: "category",
		DropdownOptions: map[string]string{
			"food":  "restaurant",
			"sleep": "bed",
		},
	})

	m := mapdata.Marker{Data: map[string]string{"category": "food"}}
	u := ResolveMarker(m, typ)
	if u.Symbol == nil || *u.Symbol != "restaurant" {
		t.Fatalf("expected dropdown-driven symbol, got %+v", u)
	}

	// Unknown option falls back to the control default.
	m.Data["category"] = "other"
	u = ResolveMarker(m, typ)
	if u.Symbol == nil || *u.Symbol != "circle" {
		t.Fatalf("expected default symbol for unknown option, got %+v", u)
	}
}

func TestResolveMarker_NoChangeYieldsEmptyUpdate(t *testing.T) {
	typ := markerType(mapdata.StyleControl{
		Attribute: mapdata.StyleColour,
		Fixed:     true,
		Default:   "ff0000",
	})
	m := mapdata.Marker{Colour: "ff0000"}

	if u := ResolveMarker(m, typ); !u.Empty() {
		t.Errorf("expected empty update, got %+v", u)
	}
}

func TestResolveLine_WidthAndMode(t *testing.T) {
	typ := mapdata.Type{
		ObjectKind: mapdata.KindLine,
		Styles: []mapdata.StyleControl{
			{Attribute: mapdata.StyleWidth, Fixed: true, Default: "7"},
			{Attribute: mapdata.StyleMode, Default: "bicycle"},
		},
	}
	l := mapdata.Line{Width: 3}

	u := ResolveLine(l, typ)
	if u.Width == nil || *u.Width != 7 {
		t.Fatalf("expected fixed width 7, got %+v", u)
	}
	if u.Mode == nil || *u.Mode != mapdata.ModeBicycle {
		t.Fatalf("expected default mode bicycle for unset line, got %+v", u)
	}

	if !ApplyToLine(&l, u) {
		t.Error("expected apply to report a change")
	}
	if l.Width != 7 || l.Mode != mapdata.ModeBicycle {
		t.Errorf("unexpected line after apply: %+v", l)
	}
}

func TestResolveLine_InvalidNumericDefaultIgnored(t *testing.T) {
	typ := mapdata.Type{
		ObjectKind: mapdata.KindLine,
		Styles: []mapdata.StyleControl{
			{Attribute: mapdata.StyleWidth, Fixed: true, Default: "wide"},
		},
	}

	if u := ResolveLine(mapdata.Line{}, typ); !u.Empty() {
		t.Errorf("expected unparseable width to be skipped, got %+v", u)
	}
}
