package importer

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html/charset"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bartek5186/catalogsync/internal/db"
)

const batchSize = 500

// columns refreshed when a product with the same SKU already exists
var productColumns = []string{
	"barcode", "title", "price", "attributes", "image_path", "category_id", "updated_at",
}

// Importer loads XML catalog exports into the local categories and products
// tables. Remote link columns are never written.
type Importer struct {
	log zerolog.Logger
	db  *gorm.DB
}

type Result struct {
	ImportID   uint   `json:"importId"`
	File       string `json:"file"`
	Skipped    bool   `json:"skipped,omitempty"` // already imported
	Categories int    `json:"categories"`
	Products   int    `json:"products"`
	Invalid    int    `json:"invalid"`
}

// Export layout: <catalog> with <categories><category> and
// <products><product> lists. Only the element names matter, so flat files
// work too.
type xmlCategory struct {
	Name string `xml:"name"`
}

type xmlAttribute struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type xmlProduct struct {
	SKU        string         `xml:"sku"`
	Barcode    string         `xml:"barcode"`
	Title      string         `xml:"title"`
	Price      string         `xml:"price"` // empty = variable
	Category   string         `xml:"category"`
	Image      string         `xml:"image"`
	Attributes []xmlAttribute `xml:"attributes>attribute"`
}

func New(log zerolog.Logger, gdb *gorm.DB) *Importer {
	return &Importer{log: log.With().Str("component", "importer").Logger(), db: gdb}
}

// ScanDir imports every *.xml file in dir, oldest name first. A failing file
// is logged and does not stop the scan.
func (i *Importer) ScanDir(ctx context.Context, dir string) ([]Result, error) {
	entries, err := os.ReadDir(expandHome(dir))
	if err != nil {
		return nil, fmt.Errorf("read import dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".xml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out []Result
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := i.ImportFile(ctx, filepath.Join(expandHome(dir), name))
		if err != nil {
			i.log.Error().Err(err).Str("file", name).Msg("import failed")
			continue
		}
		out = append(out, *res)
	}
	return out, nil
}

// ImportFile imports one export. Files are deduplicated by content hash; a
// file that already finished is skipped, one that failed is processed again.
func (i *Importer) ImportFile(ctx context.Context, path string) (*Result, error) {
	name := filepath.Base(path)
	importID, done, err := i.registerFile(ctx, path, name)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", name, err)
	}
	if done {
		i.log.Debug().Str("file", name).Msg("already imported, skipping")
		return &Result{ImportID: importID, File: name, Skipped: true}, nil
	}

	res := &Result{ImportID: importID, File: name}
	if err := i.processFile(ctx, path, res); err != nil {
		_ = i.db.WithContext(context.WithoutCancel(ctx)).Model(&db.ImportFile{}).
			Where("import_id = ?", importID).
			Updates(map[string]any{"status": db.ImportError, "last_error": err.Error()}).Error
		return nil, fmt.Errorf("process %s: %w", name, err)
	}

	now := time.Now()
	err = i.db.WithContext(ctx).Model(&db.ImportFile{}).Where("import_id = ?", importID).
		Updates(map[string]any{
			"status":       db.ImportDone,
			"last_error":   "",
			"categories":   res.Categories,
			"products":     res.Products,
			"processed_at": now,
		}).Error
	if err != nil {
		return nil, fmt.Errorf("mark %s done: %w", name, err)
	}

	i.log.Info().Str("file", name).Uint("import_id", importID).
		Int("categories", res.Categories).Int("products", res.Products).Int("invalid", res.Invalid).
		Msg("import done")
	return res, nil
}

// registerFile returns the import_files row for the file, creating it when
// the content is new. done reports a previous successful import.
func (i *Importer) registerFile(ctx context.Context, fullPath, name string) (uint, bool, error) {
	fi, err := os.Stat(fullPath)
	if err != nil {
		return 0, false, err
	}
	h, err := fileSHA256(fullPath)
	if err != nil {
		return 0, false, err
	}

	var existing db.ImportFile
	err = i.db.WithContext(ctx).Where("sha256 = ?", h).Take(&existing).Error
	switch {
	case err == nil:
		if existing.Status != db.ImportDone {
			i.log.Warn().Str("file", name).Uint("import_id", existing.ImportID).
				Int("status", existing.Status).Msg("file seen before but not done, reprocessing")
		}
		return existing.ImportID, existing.Status == db.ImportDone, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return 0, false, err
	}

	rec := db.ImportFile{
		Filename:  name,
		SHA256:    h,
		SizeBytes: fi.Size(),
		Status:    db.ImportPending,
	}
	if err := i.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return 0, false, err
	}
	return rec.ImportID, false, nil
}

func (i *Importer) processFile(ctx context.Context, fullPath string, res *Result) error {
	f, err := os.Open(fullPath)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := xml.NewDecoder(bufio.NewReader(f))
	dec.CharsetReader = func(cs string, in io.Reader) (io.Reader, error) {
		return charset.NewReaderLabel(normalizeCharset(cs), in)
	}

	return i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cats := map[string]uint{}
		batch := make([]db.Product, 0, batchSize)
		inBatch := map[string]int{} // sku -> index; a later row wins

		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "sku"}},
				DoUpdates: clause.AssignmentColumns(productColumns),
			}).CreateInBatches(&batch, batchSize).Error
			if err != nil {
				i.log.Error().Err(err).Int("n", len(batch)).Msg("product upsert batch failed")
				return err
			}
			res.Products += len(batch)
			batch = batch[:0]
			clear(inBatch)
			return nil
		}

		for {
			tok, err := dec.Token()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			se, ok := tok.(xml.StartElement)
			if !ok {
				continue
			}

			switch strings.ToLower(se.Name.Local) {
			case "category":
				var c xmlCategory
				if err := dec.DecodeElement(&c, &se); err != nil {
					return err
				}
				if _, err := i.categoryID(tx, cats, c.Name); err != nil {
					return err
				}

			case "product":
				var xp xmlProduct
				if err := dec.DecodeElement(&xp, &se); err != nil {
					return err
				}
				p, err := toProduct(xp)
				if err != nil {
					res.Invalid++
					i.log.Warn().Err(err).Str("sku", xp.SKU).Msg("skipping product")
					continue
				}
				if cid, err := i.categoryID(tx, cats, xp.Category); err != nil {
					return err
				} else if cid != 0 {
					p.CategoryID = &cid
				}
				if idx, ok := inBatch[p.SKU]; ok {
					batch[idx] = *p
					continue
				}
				inBatch[p.SKU] = len(batch)
				batch = append(batch, *p)
				if len(batch) >= batchSize {
					if err := flush(); err != nil {
						return err
					}
				}
			}
		}

		if err := flush(); err != nil {
			return err
		}
		res.Categories = len(cats)
		return nil
	})
}

// categoryID returns the local ID of the named category, creating it on
// first sight. Zero for an empty name.
func (i *Importer) categoryID(tx *gorm.DB, cache map[string]uint, name string) (uint, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, nil
	}
	if id, ok := cache[name]; ok {
		return id, nil
	}
	c := db.Category{Name: name}
	if err := tx.Where(db.Category{Name: name}).FirstOrCreate(&c).Error; err != nil {
		return 0, fmt.Errorf("category %q: %w", name, err)
	}
	cache[name] = c.ID
	return c.ID, nil
}

func toProduct(xp xmlProduct) (*db.Product, error) {
	sku := strings.TrimSpace(xp.SKU)
	if sku == "" {
		return nil, errors.New("missing sku")
	}
	price, err := parsePrice(xp.Price)
	if err != nil {
		return nil, err
	}
	attrs, err := attributesJSON(xp.Attributes)
	if err != nil {
		return nil, err
	}

	p := &db.Product{
		SKU:        sku,
		Barcode:    strings.TrimSpace(xp.Barcode),
		Title:      strings.TrimSpace(xp.Title),
		Price:      price,
		Attributes: attrs,
	}
	if p.Title == "" {
		p.Title = sku
	}
	if img := strings.TrimSpace(xp.Image); img != "" {
		p.ImagePath = &img
	}
	return p, nil
}

func parsePrice(s string) (decimal.NullDecimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", "."))
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("price %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.NullDecimal{}, fmt.Errorf("price %q is negative", s)
	}
	return decimal.NewNullDecimal(d), nil
}

// attributesJSON renders the attributes as a JSON object in document order.
// A repeated name keeps its first value.
func attributesJSON(attrs []xmlAttribute) (datatypes.JSON, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	seen := map[string]bool{}
	buf.WriteByte('{')
	for _, a := range attrs {
		name := strings.TrimSpace(a.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		k, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(strings.TrimSpace(a.Value))
		if err != nil {
			return nil, err
		}
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return datatypes.JSON(buf.Bytes()), nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// normalizeCharset maps labels seen in older exports to names known to
// charset.NewReaderLabel.
func normalizeCharset(cs string) string {
	c := strings.TrimSpace(strings.ToLower(cs))
	switch c {
	case "latin ii", "latin-2", "latin2", "iso8859-2", "iso_8859-2":
		return "iso-8859-2"
	case "cp1250", "windows1250", "win-1250":
		return "windows-1250"
	default:
		return c
	}
}
