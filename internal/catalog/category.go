package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bartek5186/catalogsync/internal/db"
	"github.com/bartek5186/catalogsync/internal/integrations/square"
)

// CategorySync pushes categories as CATEGORY objects and removes them.
type CategorySync struct {
	store  Store
	remote RemoteCatalog
	log    zerolog.Logger
}

func NewCategorySync(store Store, remote RemoteCatalog, log zerolog.Logger) *CategorySync {
	return &CategorySync{store: store, remote: remote, log: log}
}

// Sync upserts the category and stores its remote ID. On failure local state
// is left as it was.
func (c *CategorySync) Sync(ctx context.Context, cat *db.Category) (string, error) {
	id := categoryIdentity(cat)
	log := c.log.With().Uint("category_id", cat.ID).Str("wire_id", id.WireID()).Logger()

	resp, err := c.remote.UpsertObject(ctx, uuid.NewString(), square.CatalogObject{
		Type:         square.TypeCategory,
		ID:           id.WireID(),
		CategoryData: &square.CategoryData{Name: cat.Name},
	})
	if err != nil {
		log.Error().Err(err).Msg("category upsert failed")
		return "", c.categoryError(cat.ID, err)
	}

	remoteID, ok := resp.MappedID(id.WireID())
	if !ok {
		remoteID = resp.CatalogObject.ID
	}
	if remoteID == "" || remoteID[0] == '#' {
		return "", &CategoryError{CategoryID: cat.ID, Err: errors.New("square returned no category id")}
	}

	if err := c.store.SetCategoryRemoteID(ctx, cat.ID, &remoteID); err != nil {
		return "", &CategoryError{CategoryID: cat.ID, Err: err}
	}
	cat.RemoteCategoryID = &remoteID

	log.Info().Str("remote_id", remoteID).Msg("category synced")
	return remoteID, nil
}

// Delete removes the remote category. The local ID is cleared before the
// remote call and put back if the call fails for any reason but 404.
func (c *CategorySync) Delete(ctx context.Context, cat *db.Category) error {
	prev, err := c.detach(ctx, cat)
	if err != nil {
		return err
	}
	log := c.log.With().Uint("category_id", cat.ID).Str("remote_id", prev).Logger()

	err = c.remote.DeleteObject(ctx, prev)
	if err == nil || square.IsNotFound(err) {
		log.Info().Bool("already_gone", err != nil).Msg("category deleted remotely")
		return nil
	}

	log.Error().Err(err).Msg("category delete failed, restoring link")
	if rerr := c.store.SetCategoryRemoteID(context.WithoutCancel(ctx), cat.ID, &prev); rerr != nil {
		return errors.Join(c.categoryError(cat.ID, err), fmt.Errorf("restore remote id: %w", rerr))
	}
	cat.RemoteCategoryID = &prev
	return c.categoryError(cat.ID, err)
}

// Forget clears the local link only, with the same linked-products guard as
// Delete. Used when no credentials are available for a remote call.
func (c *CategorySync) Forget(ctx context.Context, cat *db.Category) error {
	_, err := c.detach(ctx, cat)
	return err
}

func (c *CategorySync) detach(ctx context.Context, cat *db.Category) (string, error) {
	if cat.RemoteCategoryID == nil || *cat.RemoteCategoryID == "" {
		return "", fmt.Errorf("category %d: %w", cat.ID, ErrNotLinked)
	}
	linked, err := c.store.LinkedProductIDs(ctx, cat.ID)
	if err != nil {
		return "", err
	}
	if len(linked) > 0 {
		return "", &ConflictError{CategoryID: cat.ID, ProductIDs: linked}
	}

	prev := *cat.RemoteCategoryID
	if err := c.store.SetCategoryRemoteID(ctx, cat.ID, nil); err != nil {
		return "", err
	}
	cat.RemoteCategoryID = nil
	return prev, nil
}

func (c *CategorySync) categoryError(id uint, err error) error {
	err = authOr(err)
	if errors.Is(err, ErrAuth) {
		return err
	}
	ce := &CategoryError{CategoryID: id, Err: err}
	if apiErr, ok := square.AsAPIError(err); ok {
		ce.StatusCode = apiErr.StatusCode
		ce.Body = apiErr.Body
	}
	return ce
}
