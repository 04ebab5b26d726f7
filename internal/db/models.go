// internal/db/models.go
package db

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// categories
type Category struct {
	ID               uint    `gorm:"primaryKey"`
	Name             string  `gorm:"uniqueIndex;size:200;not null"`
	RemoteCategoryID *string `gorm:"index;size:64"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// products
type Product struct {
	ID      uint   `gorm:"primaryKey"`
	SKU     string `gorm:"column:sku;uniqueIndex;size:64;not null"`
	Barcode string `gorm:"index;size:32"`
	Title   string `gorm:"size:200;not null"`

	// NULL = variable price
	Price decimal.NullDecimal `gorm:"type:decimal(10,2)"`
	// JSON object, key order preserved
	Attributes datatypes.JSON
	// relative to image_root or absolute
	ImagePath *string `gorm:"size:500"`

	// remote links, written together through Store.UpdateProductLinks
	RemoteCatalogID   *string `gorm:"index;size:64"`
	RemoteVariationID *string `gorm:"size:64"`
	RemoteImageID     *string `gorm:"size:64"`
	RemoteImageHash   *string `gorm:"size:64"` // sha256 of the uploaded file
	RemoteVersion     int64

	CategoryID *uint     `gorm:"index"`
	Category   *Category `gorm:"constraint:OnDelete:SET NULL"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProductLinks is the unit of remote-link state on a product.
type ProductLinks struct {
	CatalogID   *string
	VariationID *string
	ImageID     *string
	ImageHash   *string
	Version     int64
}

func (p *Product) Links() ProductLinks {
	return ProductLinks{
		CatalogID:   p.RemoteCatalogID,
		VariationID: p.RemoteVariationID,
		ImageID:     p.RemoteImageID,
		ImageHash:   p.RemoteImageHash,
		Version:     p.RemoteVersion,
	}
}

func (p *Product) ApplyLinks(l ProductLinks) {
	p.RemoteCatalogID = l.CatalogID
	p.RemoteVariationID = l.VariationID
	p.RemoteImageID = l.ImageID
	p.RemoteImageHash = l.ImageHash
	p.RemoteVersion = l.Version
}

// FirstAttributeValue returns the first value of the attribute object in
// document order, rendered as text. Empty when there are no attributes.
func (p *Product) FirstAttributeValue() string {
	if len(p.Attributes) == 0 {
		return ""
	}
	dec := json.NewDecoder(bytes.NewReader(p.Attributes))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return ""
	}
	if !dec.More() {
		return ""
	}
	if _, err := dec.Token(); err != nil { // key
		return ""
	}
	var v any
	if err := dec.Decode(&v); err != nil {
		return ""
	}
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// import_files
type ImportFile struct {
	ImportID    uint      `gorm:"primaryKey;column:import_id"`
	Filename    string    `gorm:"index"`
	SHA256      string    `gorm:"column:sha256;uniqueIndex"`
	SizeBytes   int64
	Status      int       `gorm:"index"` // 0=pending, 1=done, 2=error
	LastError   string    `gorm:"type:text"`
	Categories  int
	Products    int
	ReceivedAt  time.Time `gorm:"autoCreateTime"`
	ProcessedAt *time.Time
}

const (
	ImportPending = 0
	ImportDone    = 1
	ImportError   = 2
)

// settings
type KV struct {
	K string `gorm:"primaryKey"`
	V string
}
