// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bartek5186/catalogsync/internal/catalog"
	"github.com/bartek5186/catalogsync/internal/credentials"
)

var ErrRunning = errors.New("batch sync already running")

// Catalog is the per-entity sync API (catalog.Service).
type Catalog interface {
	SyncCategory(ctx context.Context, categoryID uint) catalog.CategoryResult
	SyncProduct(ctx context.Context, productID uint) catalog.ProductResult
}

type Lister interface {
	CategoryIDs(ctx context.Context) ([]uint, error)
	ProductIDs(ctx context.Context) ([]uint, error)
}

type CategoryOutcome struct {
	CategoryID uint `json:"categoryId"`
	catalog.CategoryResult
}

type ProductOutcome struct {
	ProductID uint `json:"productId"`
	catalog.ProductResult
}

type Stats struct {
	Categories       int           `json:"categories"`
	CategoriesFailed int           `json:"categoriesFailed"`
	Products         int           `json:"products"`
	ProductsFailed   int           `json:"productsFailed"`
	ImageFailures    int           `json:"imageFailures"`
	Took             time.Duration `json:"took"`
}

type Report struct {
	StartedAt  time.Time         `json:"startedAt"`
	Categories []CategoryOutcome `json:"categories"`
	Products   []ProductOutcome  `json:"products"`
	Stats      Stats             `json:"stats"`
	Aborted    string            `json:"aborted,omitempty"`
}

// Syncer pushes the whole local catalog, one entity at a time. It owns no
// schedule; callers trigger RunAll.
type Syncer struct {
	log  zerolog.Logger
	svc  Catalog
	list Lister

	mu      sync.Mutex
	running bool
	last    *Report
}

func New(log zerolog.Logger, svc Catalog, list Lister) *Syncer {
	return &Syncer{log: log, svc: svc, list: list}
}

// RunAll syncs every category, then every product. Overlapping runs are
// rejected with ErrRunning. The run stops early when the integration is not
// configured or the token is rejected, since every further call would fail
// the same way.
func (s *Syncer) RunAll(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrRunning
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	rep := &Report{StartedAt: time.Now()}
	s.log.Info().Msg("batch sync: start")

	err := s.run(ctx, rep)
	rep.Stats.Took = time.Since(rep.StartedAt)

	s.mu.Lock()
	s.last = rep
	s.mu.Unlock()

	ev := s.log.Info()
	if err != nil {
		ev = s.log.Warn().Err(err)
	}
	ev.Int("categories", rep.Stats.Categories).
		Int("categories_failed", rep.Stats.CategoriesFailed).
		Int("products", rep.Stats.Products).
		Int("products_failed", rep.Stats.ProductsFailed).
		Int("image_failures", rep.Stats.ImageFailures).
		Dur("took", rep.Stats.Took).
		Msg("batch sync: done")
	return rep, err
}

func (s *Syncer) run(ctx context.Context, rep *Report) error {
	catIDs, err := s.list.CategoryIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range catIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := s.svc.SyncCategory(ctx, id)
		rep.Categories = append(rep.Categories, CategoryOutcome{CategoryID: id, CategoryResult: res})
		rep.Stats.Categories++
		if !res.Success {
			rep.Stats.CategoriesFailed++
			s.log.Warn().Uint("category_id", id).Str("error", res.Error).Msg("batch sync: category failed")
			if abort := fatal(res.Err); abort != nil {
				rep.Aborted = res.Error
				return abort
			}
		}
	}

	prodIDs, err := s.list.ProductIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range prodIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := s.svc.SyncProduct(ctx, id)
		rep.Products = append(rep.Products, ProductOutcome{ProductID: id, ProductResult: res})
		rep.Stats.Products++
		if res.Success {
			continue
		}
		rep.Stats.ProductsFailed++
		if errors.Is(res.Err, catalog.ErrImageUpload) {
			rep.Stats.ImageFailures++
		}
		s.log.Warn().Uint("product_id", id).Str("error", res.Error).Msg("batch sync: product failed")
		if abort := fatal(res.Err); abort != nil {
			rep.Aborted = res.Error
			return abort
		}
	}
	return nil
}

// fatal returns a non-nil error for failures shared by all remaining calls.
func fatal(err error) error {
	switch {
	case errors.Is(err, credentials.ErrNotConfigured), errors.Is(err, catalog.ErrAuth):
		return fmt.Errorf("batch sync aborted: %w", err)
	}
	return nil
}

func (s *Syncer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastReport returns the report of the last finished run, or nil.
func (s *Syncer) LastReport() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
