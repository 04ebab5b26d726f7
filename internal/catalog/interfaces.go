package catalog

import (
	"context"

	"github.com/bartek5186/catalogsync/internal/db"
	"github.com/bartek5186/catalogsync/internal/integrations/square"
)

// Store is the local persistence used by the adapters. Implemented by
// *db.Store.
type Store interface {
	Product(ctx context.Context, id uint) (*db.Product, error)
	Category(ctx context.Context, id uint) (*db.Category, error)
	UpdateProductLinks(ctx context.Context, id uint, l db.ProductLinks) error
	SetCategoryRemoteID(ctx context.Context, id uint, remoteID *string) error
	LinkedProductIDs(ctx context.Context, categoryID uint) ([]uint, error)
}

// RemoteCatalog is the remote catalog API. Implemented by *square.Client.
type RemoteCatalog interface {
	UpsertObject(ctx context.Context, idempotencyKey string, obj square.CatalogObject) (*square.UpsertResponse, error)
	RetrieveObject(ctx context.Context, id string) (*square.CatalogObject, error)
	DeleteObject(ctx context.Context, id string) error
	CreateImage(ctx context.Context, in square.ImageUpload) (*square.CatalogObject, error)
}

var (
	_ Store         = (*db.Store)(nil)
	_ RemoteCatalog = (*square.Client)(nil)
)

// State is the position of one product sync in its state machine.
type State string

const (
	StateNew            State = "NEW"
	StatePendingCreate  State = "PENDING_CREATE"
	StateCreated        State = "CREATED"
	StateExisting       State = "EXISTING"
	StatePendingUpdate  State = "PENDING_UPDATE"
	StateConflict       State = "CONFLICT"
	StateRefreshVersion State = "REFRESH_VERSION"
	StateUpdated        State = "UPDATED"
	StateFailed         State = "FAILED"
)
