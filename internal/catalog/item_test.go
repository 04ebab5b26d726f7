package catalog

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/bartek5186/catalogsync/internal/db"
	"github.com/bartek5186/catalogsync/internal/integrations/square"
)

func TestApplyPrice(t *testing.T) {
	tests := []struct {
		name   string
		price  decimal.NullDecimal
		typ    string
		amount int64
	}{
		{"cents", price("19.99"), square.FixedPricing, 1999},
		{"whole", price("10"), square.FixedPricing, 1000},
		{"zero is still fixed", price("0"), square.FixedPricing, 0},
		{"half cent rounds up", price("0.005"), square.FixedPricing, 1},
		{"sub cent rounds down", price("2.494"), square.FixedPricing, 249},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var vd square.ItemVariationData
			applyPrice(&vd, tt.price, "USD")
			assert.Equal(t, tt.typ, vd.PricingType)
			if assert.NotNil(t, vd.PriceMoney) {
				assert.Equal(t, tt.amount, vd.PriceMoney.Amount)
				assert.Equal(t, "USD", vd.PriceMoney.Currency)
			}
		})
	}

	t.Run("null price is variable", func(t *testing.T) {
		vd := square.ItemVariationData{PriceMoney: &square.Money{Amount: 5}}
		applyPrice(&vd, decimal.NullDecimal{}, "USD")
		assert.Equal(t, square.VariablePricing, vd.PricingType)
		assert.Nil(t, vd.PriceMoney)
	})
}

func TestIdentity(t *testing.T) {
	p := &db.Product{ID: 4, SKU: "AB123456"}
	assert.Equal(t, Unassigned{Ref: "AB123456"}, itemIdentity(p))
	assert.Equal(t, "#AB123456", itemIdentity(p).WireID())
	assert.Equal(t, "#AB123456_regular", newVariationIdentity(p).WireID())
	assert.Equal(t, "#AB123456_image", imageIdentity(p).WireID())

	p.RemoteCatalogID = strp("ITEM9")
	id := itemIdentity(p)
	assert.Equal(t, "ITEM9", id.WireID())
	remote, ok := RemoteID(id)
	assert.True(t, ok)
	assert.Equal(t, "ITEM9", remote)

	_, ok = RemoteID(Unassigned{Ref: "x"})
	assert.False(t, ok)

	c := &db.Category{ID: 12}
	assert.Equal(t, "#12", categoryIdentity(c).WireID())
	c.RemoteCategoryID = strp("CAT3")
	assert.Equal(t, Assigned{ID: "CAT3"}, categoryIdentity(c))
}

func TestExtractIDs(t *testing.T) {
	item := Unassigned{Ref: "S1"}
	variation := Unassigned{Ref: "S1_regular"}

	t.Run("from id mappings", func(t *testing.T) {
		resp := &square.UpsertResponse{
			CatalogObject: &square.CatalogObject{ID: "ITEM1"},
			IDMappings: []square.IDMapping{
				{ClientObjectID: "#S1", ObjectID: "ITEM1"},
				{ClientObjectID: "#S1_regular", ObjectID: "VAR1"},
			},
		}
		c, v := extractIDs(resp, item, variation)
		assert.Equal(t, "ITEM1", c)
		assert.Equal(t, "VAR1", v)
	})

	t.Run("variation falls back to returned object", func(t *testing.T) {
		resp := &square.UpsertResponse{
			CatalogObject: &square.CatalogObject{
				ID:       "ITEM1",
				ItemData: &square.ItemData{Variations: []square.CatalogObject{{ID: "VAR2"}}},
			},
		}
		c, v := extractIDs(resp, item, variation)
		assert.Equal(t, "ITEM1", c)
		assert.Equal(t, "VAR2", v)
	})

	t.Run("assigned identities are kept", func(t *testing.T) {
		resp := &square.UpsertResponse{CatalogObject: &square.CatalogObject{ID: "ITEM1"}}
		c, v := extractIDs(resp, Assigned{ID: "ITEM1"}, Assigned{ID: "VAR1"})
		assert.Equal(t, "ITEM1", c)
		assert.Equal(t, "VAR1", v)
	})

	t.Run("temporary ids are rejected", func(t *testing.T) {
		resp := &square.UpsertResponse{
			CatalogObject: &square.CatalogObject{
				ID:       "#S1",
				ItemData: &square.ItemData{Variations: []square.CatalogObject{{ID: "#S1_regular"}}},
			},
		}
		c, v := extractIDs(resp, item, variation)
		assert.Empty(t, c)
		assert.Empty(t, v)
	})
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(ErrAuth))
	assert.True(t, Retryable(&SyncError{Err: ErrVersionConflict}))
	assert.True(t, Retryable(&SyncError{Err: &square.APIError{StatusCode: 503}}))
	assert.True(t, Retryable(&SyncError{Err: &square.APIError{StatusCode: 429}}))
	assert.False(t, Retryable(&SyncError{Err: &square.APIError{StatusCode: 400}}))
	assert.False(t, Retryable(&ConflictError{CategoryID: 1, ProductIDs: []uint{2}}))
}
