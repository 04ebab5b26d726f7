package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bartek5186/catalogsync/internal/db"
	"github.com/bartek5186/catalogsync/internal/integrations/square"
)

// ImageSync uploads a product's local image and attaches it to the product's
// remote item. Every upload creates a new remote IMAGE object and the
// previous one is left in place, so Sync skips files that were already
// uploaded unchanged.
type ImageSync struct {
	store     Store
	remote    RemoteCatalog
	imageRoot string
	log       zerolog.Logger
}

func NewImageSync(store Store, remote RemoteCatalog, imageRoot string, log zerolog.Logger) *ImageSync {
	return &ImageSync{store: store, remote: remote, imageRoot: imageRoot, log: log}
}

// Sync uploads the product image unless the stored image ID was made from a
// file with the same content. The bool result reports an upload.
func (s *ImageSync) Sync(ctx context.Context, p *db.Product) (string, bool, error) {
	if err := s.check(p); err != nil {
		return "", false, err
	}
	path, data, err := s.read(p)
	if err != nil {
		return "", false, err
	}
	if p.RemoteImageID != nil && *p.RemoteImageID != "" &&
		p.RemoteImageHash != nil && *p.RemoteImageHash == contentHash(data) {
		s.log.Debug().Uint("product_id", p.ID).Str("image_id", *p.RemoteImageID).Msg("image unchanged, not uploading")
		return *p.RemoteImageID, false, nil
	}
	id, err := s.upload(ctx, p, path, data)
	return id, err == nil, err
}

// Upload requires a local image path and a remote catalog ID. Any previous
// remote image ID is cleared before the call, so on failure the product ends
// up linked without an image. The item itself is never touched.
func (s *ImageSync) Upload(ctx context.Context, p *db.Product) (string, error) {
	if err := s.check(p); err != nil {
		return "", err
	}
	path, data, err := s.read(p)
	if err != nil {
		return "", err
	}
	return s.upload(ctx, p, path, data)
}

func (s *ImageSync) check(p *db.Product) error {
	if !HasImage(p) {
		return &ImageUploadError{ProductID: p.ID, Err: errNoImage}
	}
	if p.RemoteCatalogID == nil || *p.RemoteCatalogID == "" {
		return &ImageUploadError{ProductID: p.ID, Err: ErrNotLinked}
	}
	return nil
}

func (s *ImageSync) read(p *db.Product) (string, []byte, error) {
	path := s.resolve(*p.ImagePath)
	data, err := os.ReadFile(path)
	if err != nil {
		s.log.Error().Err(err).Uint("product_id", p.ID).Str("path", path).Msg("cannot read product image")
		return path, nil, &ImageUploadError{ProductID: p.ID, Err: err}
	}
	return path, data, nil
}

func (s *ImageSync) upload(ctx context.Context, p *db.Product, path string, data []byte) (string, error) {
	log := s.log.With().Uint("product_id", p.ID).Str("sku", p.SKU).Logger()

	links := p.Links()
	if links.ImageID != nil || links.ImageHash != nil {
		links.ImageID, links.ImageHash = nil, nil
		if err := s.store.UpdateProductLinks(ctx, p.ID, links); err != nil {
			return "", &ImageUploadError{ProductID: p.ID, Err: fmt.Errorf("clear image id: %w", err)}
		}
		p.ApplyLinks(links)
	}

	img, err := s.remote.CreateImage(ctx, square.ImageUpload{
		IdempotencyKey: uuid.NewString(),
		ObjectID:       *p.RemoteCatalogID,
		TempID:         imageIdentity(p).WireID(),
		Caption:        p.Title,
		FileName:       filepath.Base(path),
		Data:           data,
	})
	if err != nil {
		log.Error().Err(err).Msg("image upload failed")
		return "", &ImageUploadError{ProductID: p.ID, Err: authOr(err)}
	}

	imageID, hash := img.ID, contentHash(data)
	links.ImageID, links.ImageHash = &imageID, &hash
	if err := s.store.UpdateProductLinks(ctx, p.ID, links); err != nil {
		return "", &ImageUploadError{ProductID: p.ID, Err: fmt.Errorf("store image id: %w", err)}
	}
	p.ApplyLinks(links)

	log.Info().Str("image_id", imageID).Int("bytes", len(data)).Msg("image attached")
	return imageID, nil
}

func (s *ImageSync) resolve(p string) string {
	if filepath.IsAbs(p) || s.imageRoot == "" {
		return p
	}
	return filepath.Join(s.imageRoot, p)
}

// HasImage reports whether the product points at a local image.
func HasImage(p *db.Product) bool {
	return p.ImagePath != nil && *p.ImagePath != ""
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
