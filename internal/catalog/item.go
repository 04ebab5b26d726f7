package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bartek5186/catalogsync/internal/db"
	"github.com/bartek5186/catalogsync/internal/integrations/square"
)

const variationName = "Regular"

// ItemResult describes a finished product sync. ImageErr is set when the item
// was pushed but the image attach failed.
type ItemResult struct {
	CatalogID   string
	VariationID string
	ImageID     string
	State       State
	Attempts    int
	Conflicts   int
	ImageErr    error
}

// ItemSync pushes products as an ITEM with a single "Regular" variation.
type ItemSync struct {
	store      Store
	remote     RemoteCatalog
	categories *CategorySync
	images     *ImageSync
	locationID string
	currency   string
	log        zerolog.Logger
}

func NewItemSync(store Store, remote RemoteCatalog, categories *CategorySync, images *ImageSync,
	locationID, currency string, log zerolog.Logger) *ItemSync {
	if currency == "" {
		currency = "USD"
	}
	return &ItemSync{
		store:      store,
		remote:     remote,
		categories: categories,
		images:     images,
		locationID: locationID,
		currency:   currency,
		log:        log,
	}
}

// remote view of an existing item, fetched before every update
type remoteState struct {
	version          int64
	variationID      string
	variationVersion int64
}

// Sync runs category -> item -> image, strictly in that order. The product's
// catalog and variation IDs are only written together, after a successful
// upsert.
func (s *ItemSync) Sync(ctx context.Context, p *db.Product) (ItemResult, error) {
	log := s.log.With().Uint("product_id", p.ID).Str("sku", p.SKU).Logger()

	categoryID, err := s.resolveCategory(ctx, p)
	if err != nil {
		log.Error().Err(err).Msg("category dependency failed")
		return ItemResult{State: StateFailed}, err
	}

	res := ItemResult{State: StateNew}
	itemID := itemIdentity(p)
	var variationID Identity = newVariationIdentity(p)
	var cur remoteState
	knownImage, knownHash := p.RemoteImageID, p.RemoteImageHash

	if remoteID, ok := RemoteID(itemID); ok {
		res.State = StateExisting
		cur, err = s.fetch(ctx, remoteID)
		switch {
		case square.IsNotFound(err):
			// deleted on the remote side, start over with a fresh item
			log.Warn().Str("remote_id", remoteID).Msg("remote item missing, recreating")
			itemID = Unassigned{Ref: p.SKU}
			res.State = StateNew
			knownImage, knownHash = nil, nil
		case err != nil:
			return s.fail(p, res, err)
		default:
			variationID = s.pickVariation(log, p, cur)
		}
	}

	obj := s.buildItem(p, itemID, variationID, categoryID, knownImage, cur)

	create := res.State == StateNew
	if create {
		res.State = StatePendingCreate
	} else {
		res.State = StatePendingUpdate
	}

	var resp *square.UpsertResponse
	for {
		res.Attempts++
		log.Debug().Str("state", string(res.State)).Int("attempt", res.Attempts).Msg("upsert item")

		resp, err = s.remote.UpsertObject(ctx, uuid.NewString(), obj)
		if err == nil {
			break
		}

		apiErr, isAPI := square.AsAPIError(err)
		if !isAPI || !apiErr.IsVersionConflict() || create {
			return s.fail(p, res, err)
		}

		res.Conflicts++
		res.State = StateConflict
		if res.Conflicts > 1 {
			log.Error().Int("attempt", res.Attempts).Msg("version conflict after refresh")
			return s.fail(p, res, fmt.Errorf("%w: %w", ErrVersionConflict, err))
		}

		log.Warn().Int("attempt", res.Attempts).Msg("version conflict, refreshing version")
		res.State = StateRefreshVersion
		remoteID, _ := RemoteID(itemID)
		if cur, err = s.fetch(ctx, remoteID); err != nil {
			return s.fail(p, res, err)
		}
		setVersions(&obj, cur)
		res.State = StatePendingUpdate
	}

	catalogID, varID := extractIDs(resp, itemID, variationID)
	if catalogID == "" || varID == "" {
		return s.fail(p, res, errors.New("square response carries no item or variation id"))
	}

	links := db.ProductLinks{
		CatalogID:   &catalogID,
		VariationID: &varID,
		ImageID:     knownImage,
		ImageHash:   knownHash,
		Version:     resp.CatalogObject.Version,
	}
	if err := s.store.UpdateProductLinks(ctx, p.ID, links); err != nil {
		// the remote item exists but we could not record it
		log.Error().Err(err).Str("remote_id", catalogID).Msg("storing remote ids failed")
		return s.fail(p, res, err)
	}
	p.ApplyLinks(links)

	if create {
		res.State = StateCreated
	} else {
		res.State = StateUpdated
	}
	res.CatalogID, res.VariationID = catalogID, varID
	if knownImage != nil {
		res.ImageID = *knownImage
	}
	log.Info().
		Str("state", string(res.State)).
		Str("remote_id", catalogID).
		Str("variation_id", varID).
		Int("attempts", res.Attempts).
		Msg("item synced")

	if HasImage(p) {
		imageID, _, err := s.images.Sync(ctx, p)
		if err != nil {
			res.ImageID = ""
			if p.RemoteImageID != nil {
				res.ImageID = *p.RemoteImageID
			}
			res.ImageErr = err
			return res, err
		}
		res.ImageID = imageID
	}
	return res, nil
}

func (s *ItemSync) resolveCategory(ctx context.Context, p *db.Product) (string, error) {
	if p.CategoryID == nil {
		return "", nil
	}
	cat, err := s.store.Category(ctx, *p.CategoryID)
	if err != nil {
		return "", &DependencyError{CategoryID: *p.CategoryID, Err: err}
	}
	if cat.RemoteCategoryID != nil && *cat.RemoteCategoryID != "" {
		return *cat.RemoteCategoryID, nil
	}
	id, err := s.categories.Sync(ctx, cat)
	if err != nil {
		return "", &DependencyError{CategoryID: cat.ID, Err: err}
	}
	return id, nil
}

func (s *ItemSync) fetch(ctx context.Context, id string) (remoteState, error) {
	obj, err := s.remote.RetrieveObject(ctx, id)
	if err != nil {
		return remoteState{}, err
	}
	st := remoteState{version: obj.Version}
	if v := obj.FirstVariation(); v != nil {
		st.variationID = v.ID
		st.variationVersion = v.Version
	}
	return st, nil
}

// pickVariation prefers the variation ID reported by Square, then the stored
// one. A SKU-derived ID is only used when neither exists.
func (s *ItemSync) pickVariation(log zerolog.Logger, p *db.Product, cur remoteState) Identity {
	stored := ""
	if p.RemoteVariationID != nil {
		stored = *p.RemoteVariationID
	}
	switch {
	case cur.variationID != "":
		if stored != "" && stored != cur.variationID {
			log.Warn().Str("stored", stored).Str("remote", cur.variationID).Msg("variation id changed remotely")
		}
		return Assigned{ID: cur.variationID}
	case stored != "":
		return Assigned{ID: stored}
	default:
		return newVariationIdentity(p)
	}
}

func (s *ItemSync) buildItem(p *db.Product, itemID, variationID Identity, categoryID string, imageID *string, cur remoteState) square.CatalogObject {
	_, existing := RemoteID(itemID)

	vd := &square.ItemVariationData{
		ItemID:         itemID.WireID(),
		Name:           variationName,
		SKU:            p.SKU,
		UPC:            p.Barcode,
		TrackInventory: true,
	}
	applyPrice(vd, p.Price, s.currency)
	if !existing {
		vd.LocationOverrides = []square.LocationOverride{{LocationID: s.locationID}}
	}

	item := &square.ItemData{
		Name:        p.Title,
		Description: p.FirstAttributeValue(),
		Variations: []square.CatalogObject{{
			Type:              square.TypeItemVariation,
			ID:                variationID.WireID(),
			ItemVariationData: vd,
		}},
	}
	if imageID != nil && *imageID != "" {
		item.ImageIDs = []string{*imageID}
	}
	if categoryID != "" {
		item.Categories = []square.CategoryRef{{ID: categoryID}}
	}

	obj := square.CatalogObject{
		Type:                 square.TypeItem,
		ID:                   itemID.WireID(),
		PresentAtLocationIDs: []string{s.locationID},
		ItemData:             item,
	}
	if existing {
		setVersions(&obj, cur)
	}
	return obj
}

func setVersions(obj *square.CatalogObject, cur remoteState) {
	obj.Version = cur.version
	if v := obj.FirstVariation(); v != nil && v.ID == cur.variationID {
		v.Version = cur.variationVersion
	}
}

// applyPrice sets fixed pricing with the amount in minor units, or variable
// pricing without any amount when there is no price.
func applyPrice(vd *square.ItemVariationData, price decimal.NullDecimal, currency string) {
	if !price.Valid {
		vd.PricingType = square.VariablePricing
		vd.PriceMoney = nil
		return
	}
	vd.PricingType = square.FixedPricing
	vd.PriceMoney = &square.Money{
		Amount:   price.Decimal.Shift(2).Round(0).IntPart(),
		Currency: currency,
	}
}

func extractIDs(resp *square.UpsertResponse, itemID, variationID Identity) (string, string) {
	catalogID, ok := RemoteID(itemID)
	if !ok {
		if catalogID, ok = resp.MappedID(itemID.WireID()); !ok {
			catalogID = resp.CatalogObject.ID
		}
	}

	varID, ok := RemoteID(variationID)
	if !ok {
		varID, ok = resp.MappedID(variationID.WireID())
	}
	if !ok || varID == "" {
		if v := resp.CatalogObject.FirstVariation(); v != nil {
			varID = v.ID
		}
	}

	if isTemp(catalogID) {
		catalogID = ""
	}
	if isTemp(varID) {
		varID = ""
	}
	return catalogID, varID
}

func isTemp(id string) bool { return len(id) > 0 && id[0] == '#' }

func (s *ItemSync) fail(p *db.Product, res ItemResult, err error) (ItemResult, error) {
	err = authOr(err)
	if errors.Is(err, ErrAuth) {
		res.State = StateFailed
		return res, err
	}
	se := &SyncError{ProductID: p.ID, State: res.State, Err: err}
	if apiErr, ok := square.AsAPIError(err); ok {
		se.StatusCode = apiErr.StatusCode
		se.Body = apiErr.Body
	}
	res.State = StateFailed
	return res, se
}
