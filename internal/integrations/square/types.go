// internal/integrations/square/types.go
package square

// object types
const (
	TypeItem          = "ITEM"
	TypeItemVariation = "ITEM_VARIATION"
	TypeCategory      = "CATEGORY"
	TypeImage         = "IMAGE"
)

// pricing types
const (
	FixedPricing    = "FIXED_PRICING"
	VariablePricing = "VARIABLE_PRICING"
)

// CatalogObject is the subset of the Square catalog object used here.
// IDs starting with "#" are client-side temporary IDs.
type CatalogObject struct {
	Type                 string             `json:"type"`
	ID                   string             `json:"id"`
	Version              int64              `json:"version,omitempty"`
	IsDeleted            bool               `json:"is_deleted,omitempty"`
	PresentAtLocationIDs []string           `json:"present_at_location_ids,omitempty"`
	ItemData             *ItemData          `json:"item_data,omitempty"`
	ItemVariationData    *ItemVariationData `json:"item_variation_data,omitempty"`
	CategoryData         *CategoryData      `json:"category_data,omitempty"`
	ImageData            *ImageData         `json:"image_data,omitempty"`
}

type ItemData struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Variations  []CatalogObject `json:"variations,omitempty"`
	ImageIDs    []string        `json:"image_ids,omitempty"`
	Categories  []CategoryRef   `json:"categories,omitempty"`
}

type CategoryRef struct {
	ID string `json:"id"`
}

type ItemVariationData struct {
	ItemID            string             `json:"item_id,omitempty"`
	Name              string             `json:"name"`
	SKU               string             `json:"sku,omitempty"`
	UPC               string             `json:"upc,omitempty"`
	PricingType       string             `json:"pricing_type"`
	PriceMoney        *Money             `json:"price_money,omitempty"` // only with FIXED_PRICING
	TrackInventory    bool               `json:"track_inventory"`
	LocationOverrides []LocationOverride `json:"location_overrides,omitempty"`
}

type LocationOverride struct {
	LocationID string `json:"location_id"`
}

// Money amount is in the smallest currency unit (cents for USD).
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type CategoryData struct {
	Name string `json:"name"`
}

type ImageData struct {
	Name    string `json:"name,omitempty"`
	Caption string `json:"caption,omitempty"`
	URL     string `json:"url,omitempty"`
}

type IDMapping struct {
	ClientObjectID string `json:"client_object_id"`
	ObjectID       string `json:"object_id"`
}

// Error is one entry of the "errors" array of a failed response.
type Error struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail,omitempty"`
	Field    string `json:"field,omitempty"`
}

type UpsertResponse struct {
	CatalogObject *CatalogObject `json:"catalog_object"`
	IDMappings    []IDMapping    `json:"id_mappings,omitempty"`
}

// MappedID returns the permanent ID assigned to a temporary client ID.
func (r *UpsertResponse) MappedID(clientID string) (string, bool) {
	for _, m := range r.IDMappings {
		if m.ClientObjectID == clientID && m.ObjectID != "" {
			return m.ObjectID, true
		}
	}
	return "", false
}

// FirstVariation returns the first variation of an item, or nil.
func (o *CatalogObject) FirstVariation() *CatalogObject {
	if o == nil || o.ItemData == nil || len(o.ItemData.Variations) == 0 {
		return nil
	}
	return &o.ItemData.Variations[0]
}

type upsertRequest struct {
	IdempotencyKey string        `json:"idempotency_key"`
	Object         CatalogObject `json:"object"`
}

type retrieveResponse struct {
	Object *CatalogObject `json:"object"`
}

type errorResponse struct {
	Errors []Error `json:"errors"`
}

type createImageRequest struct {
	IdempotencyKey string        `json:"idempotency_key"`
	ObjectID       string        `json:"object_id,omitempty"`
	Image          CatalogObject `json:"image"`
	IsPrimary      bool          `json:"is_primary,omitempty"`
}

type createImageResponse struct {
	Image *CatalogObject `json:"image"`
}

// ImageUpload describes one image attach call.
type ImageUpload struct {
	IdempotencyKey string
	ObjectID       string // item the image is attached to
	TempID         string
	Caption        string
	FileName       string
	Data           []byte
}
