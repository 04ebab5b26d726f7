package catalog

import (
	"strconv"

	"github.com/bartek5186/catalogsync/internal/db"
)

// Identity names a remote object either by a local reference (not created
// remotely yet) or by its server-assigned ID.
type Identity interface {
	// WireID is the value sent in the "id" field of a catalog object.
	WireID() string
	isIdentity()
}

type Unassigned struct{ Ref string }

type Assigned struct{ ID string }

func (u Unassigned) WireID() string { return "#" + u.Ref }
func (a Assigned) WireID() string   { return a.ID }

func (Unassigned) isIdentity() {}
func (Assigned) isIdentity()   {}

// RemoteID returns the server ID of an assigned identity.
func RemoteID(id Identity) (string, bool) {
	a, ok := id.(Assigned)
	return a.ID, ok
}

func itemIdentity(p *db.Product) Identity {
	if p.RemoteCatalogID != nil && *p.RemoteCatalogID != "" {
		return Assigned{ID: *p.RemoteCatalogID}
	}
	return Unassigned{Ref: p.SKU}
}

func newVariationIdentity(p *db.Product) Identity {
	return Unassigned{Ref: p.SKU + "_regular"}
}

func categoryIdentity(c *db.Category) Identity {
	if c.RemoteCategoryID != nil && *c.RemoteCategoryID != "" {
		return Assigned{ID: *c.RemoteCategoryID}
	}
	return Unassigned{Ref: strconv.FormatUint(uint64(c.ID), 10)}
}

func imageIdentity(p *db.Product) Identity {
	return Unassigned{Ref: p.SKU + "_image"}
}
