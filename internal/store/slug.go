package store

import (
	"crypto/rand"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/chartwork/mapsync/pkg/mapdata"
)

// NewSlug generates an opaque map slug: a lowercase ULID, time-sortable
// and practically collision-free. Uniqueness is still enforced by the
// store on create, since slugs may also be chosen by users.
func NewSlug() string {
	return strings.ToLower(ulid.MustNew(ulid.Now(), rand.Reader).String())
}

// FillSlugs generates any of the map's three slugs that are empty.
func FillSlugs(m *mapdata.Map) {
	if m.ID == "" {
		m.ID = NewSlug()
	}
	if m.WriteID == "" {
		m.WriteID = NewSlug()
	}
	if m.AdminID == "" {
		m.AdminID = NewSlug()
	}
}

// SlugsDistinct reports whether the map's three slugs are pairwise
// distinct.
func SlugsDistinct(m mapdata.Map) bool {
	return m.ID != m.WriteID && m.ID != m.AdminID && m.WriteID != m.AdminID
}
