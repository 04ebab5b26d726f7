package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bartek5186/catalogsync/internal/db"
	"github.com/bartek5186/catalogsync/internal/integrations/square"
)

// Unlinker removes a product's remote item. The category link is kept.
type Unlinker struct {
	store  Store
	remote RemoteCatalog
	log    zerolog.Logger
}

func NewUnlinker(store Store, remote RemoteCatalog, log zerolog.Logger) *Unlinker {
	return &Unlinker{store: store, remote: remote, log: log}
}

// Unlink clears all link fields in one update, then deletes the remote item.
// A 404 counts as deleted. Any other failure writes the captured links back
// as one unit.
func (u *Unlinker) Unlink(ctx context.Context, p *db.Product) error {
	prev, err := u.detach(ctx, p)
	if err != nil {
		return err
	}
	log := u.log.With().Uint("product_id", p.ID).Str("remote_id", *prev.CatalogID).Logger()

	err = u.remote.DeleteObject(ctx, *prev.CatalogID)
	if err == nil || square.IsNotFound(err) {
		log.Info().Bool("already_gone", err != nil).Msg("product unlinked")
		return nil
	}

	log.Error().Err(err).Msg("remote delete failed, restoring links")
	if rerr := u.store.UpdateProductLinks(context.WithoutCancel(ctx), p.ID, prev); rerr != nil {
		return errors.Join(authOr(err), fmt.Errorf("restore links of product %d: %w", p.ID, rerr))
	}
	p.ApplyLinks(prev)
	return authOr(err)
}

// Forget clears the links without any remote call.
func (u *Unlinker) Forget(ctx context.Context, p *db.Product) error {
	_, err := u.detach(ctx, p)
	return err
}

func (u *Unlinker) detach(ctx context.Context, p *db.Product) (db.ProductLinks, error) {
	prev := p.Links()
	if prev.CatalogID == nil || *prev.CatalogID == "" {
		return prev, fmt.Errorf("product %d: %w", p.ID, ErrNotLinked)
	}
	cleared := db.ProductLinks{}
	if err := u.store.UpdateProductLinks(ctx, p.ID, cleared); err != nil {
		return prev, err
	}
	p.ApplyLinks(cleared)
	return prev, nil
}
