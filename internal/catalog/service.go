package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/bartek5186/catalogsync/internal/credentials"
	"github.com/bartek5186/catalogsync/internal/db"
	"github.com/bartek5186/catalogsync/internal/metrics"
)

const (
	otelScope = "catalogsync/catalog"

	metricSucceeded     = "catalogsync.sync.succeeded"
	metricFailed        = "catalogsync.sync.failed"
	metricConflicts     = "catalogsync.sync.conflicts"
	metricImageFailures = "catalogsync.sync.image_failures"

	opSyncCategory   = "sync_category"
	opSyncProduct    = "sync_product"
	opUnlinkProduct  = "unlink_product"
	opUnlinkCategory = "unlink_category"
)

const (
	msgNotConfigured = "Square integration is not configured. Set the access token and location ID in settings."
	msgAuth          = "Square API authentication failed. Please verify your access token."
	msgRetry         = "Square sync failed temporarily. Please try again."
	msgImage         = "Failed to upload product image to Square."
	msgNoRemoteCall  = "Square credentials are not configured, so the remote object was not deleted; only the local link was removed."
)

type CategoryResult struct {
	Success          bool   `json:"success"`
	RemoteCategoryID string `json:"remoteCategoryId,omitempty"`
	Error            string `json:"error,omitempty"`
	NeedsSetup       bool   `json:"needsSetup,omitempty"`
	Retryable        bool   `json:"retryable,omitempty"`
	Err              error  `json:"-"`
}

type ProductResult struct {
	Success           bool   `json:"success"`
	RemoteCatalogID   string `json:"remoteCatalogId,omitempty"`
	RemoteVariationID string `json:"remoteVariationId,omitempty"`
	RemoteImageID     string `json:"remoteImageId,omitempty"`
	Error             string `json:"error,omitempty"`
	NeedsSetup        bool   `json:"needsSetup,omitempty"`
	Retryable         bool   `json:"retryable,omitempty"`
	Err               error  `json:"-"`
}

type UnlinkResult struct {
	Success    bool   `json:"success"`
	Warning    string `json:"warning,omitempty"`
	Error      string `json:"error,omitempty"`
	ProductIDs []uint `json:"productIds,omitempty"` // linked products blocking a category delete
	Retryable  bool   `json:"retryable,omitempty"`
	Err        error  `json:"-"`
}

type CredentialResolver interface {
	Resolve(ctx context.Context) (credentials.Credentials, error)
}

// RemoteFactory builds a remote client bound to one credential bundle.
type RemoteFactory func(creds credentials.Credentials) RemoteCatalog

type Options struct {
	Currency  string
	ImageRoot string
}

// Service is the inbound API called by the host application after a local
// create or edit. Credentials are resolved once per call.
type Service struct {
	store     Store
	resolver  CredentialResolver
	newRemote RemoteFactory
	opts      Options
	log       zerolog.Logger

	tracer           trace.Tracer
	cntSucceeded     metric.Int64Counter
	cntFailed        metric.Int64Counter
	cntConflicts     metric.Int64Counter
	cntImageFailures metric.Int64Counter
}

func NewService(store Store, resolver CredentialResolver, newRemote RemoteFactory, opts Options, log zerolog.Logger) *Service {
	meter := otel.Meter(otelScope)
	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			log.Error().Err(err).Str("name", name).Msg("creating OTel counter")
			return noop.Int64Counter{}
		}
		return c
	}

	return &Service{
		store:     store,
		resolver:  resolver,
		newRemote: newRemote,
		opts:      opts,
		log:       log,

		tracer:           otel.Tracer(otelScope),
		cntSucceeded:     mustCounter(metricSucceeded, "Number of successful sync and unlink operations"),
		cntFailed:        mustCounter(metricFailed, "Number of failed sync and unlink operations"),
		cntConflicts:     mustCounter(metricConflicts, "Number of version conflicts seen during item upserts"),
		cntImageFailures: mustCounter(metricImageFailures, "Number of image uploads that failed after a successful item sync"),
	}
}

func (s *Service) SyncCategory(ctx context.Context, categoryID uint) CategoryResult {
	ctx, span := s.start(ctx, opSyncCategory, attribute.Int64("category.id", int64(categoryID)))
	defer span.End()

	cat, err := s.store.Category(ctx, categoryID)
	if err != nil {
		return s.categoryResult(ctx, span, "", err)
	}
	creds, err := s.resolver.Resolve(ctx)
	if err != nil {
		return s.categoryResult(ctx, span, "", err)
	}

	log := s.log.With().Str("env", string(creds.Environment)).Logger()
	remoteID, err := NewCategorySync(s.store, s.newRemote(creds), log).Sync(ctx, cat)
	return s.categoryResult(ctx, span, remoteID, err)
}

func (s *Service) SyncProduct(ctx context.Context, productID uint) ProductResult {
	ctx, span := s.start(ctx, opSyncProduct, attribute.Int64("product.id", int64(productID)))
	defer span.End()

	p, err := s.store.Product(ctx, productID)
	if err != nil {
		return s.productResult(ctx, span, ItemResult{}, err)
	}
	creds, err := s.resolver.Resolve(ctx)
	if err != nil {
		return s.productResult(ctx, span, ItemResult{}, err)
	}

	log := s.log.With().Str("env", string(creds.Environment)).Logger()
	remote := s.newRemote(creds)
	categories := NewCategorySync(s.store, remote, log)
	images := NewImageSync(s.store, remote, s.opts.ImageRoot, log)
	items := NewItemSync(s.store, remote, categories, images, creds.LocationID, s.opts.Currency, log)

	res, err := items.Sync(ctx, p)
	span.SetAttributes(
		attribute.String("sync.state", string(res.State)),
		attribute.Int("sync.attempts", res.Attempts),
	)
	if res.Conflicts > 0 {
		s.cntConflicts.Add(ctx, int64(res.Conflicts))
	}
	if res.ImageErr != nil {
		s.cntImageFailures.Add(ctx, 1)
	}
	return s.productResult(ctx, span, res, err)
}

// UnlinkProduct deletes the product's remote item. Without credentials only
// the local links are cleared and a warning is returned.
func (s *Service) UnlinkProduct(ctx context.Context, productID uint) UnlinkResult {
	ctx, span := s.start(ctx, opUnlinkProduct, attribute.Int64("product.id", int64(productID)))
	defer span.End()

	p, err := s.store.Product(ctx, productID)
	if err != nil {
		return s.unlinkResult(ctx, span, opUnlinkProduct, "", err)
	}

	creds, err := s.resolver.Resolve(ctx)
	if errors.Is(err, credentials.ErrNotConfigured) {
		s.log.Warn().Uint("product_id", p.ID).Msg("no credentials, clearing local links only")
		err = NewUnlinker(s.store, nil, s.log).Forget(ctx, p)
		return s.unlinkResult(ctx, span, opUnlinkProduct, msgNoRemoteCall, err)
	}
	if err != nil {
		return s.unlinkResult(ctx, span, opUnlinkProduct, "", err)
	}

	err = NewUnlinker(s.store, s.newRemote(creds), s.log).Unlink(ctx, p)
	return s.unlinkResult(ctx, span, opUnlinkProduct, "", err)
}

// UnlinkCategory deletes the remote category, refusing while any product of
// the category still holds a remote catalog ID.
func (s *Service) UnlinkCategory(ctx context.Context, categoryID uint) UnlinkResult {
	ctx, span := s.start(ctx, opUnlinkCategory, attribute.Int64("category.id", int64(categoryID)))
	defer span.End()

	cat, err := s.store.Category(ctx, categoryID)
	if err != nil {
		return s.unlinkResult(ctx, span, opUnlinkCategory, "", err)
	}

	creds, err := s.resolver.Resolve(ctx)
	if errors.Is(err, credentials.ErrNotConfigured) {
		s.log.Warn().Uint("category_id", cat.ID).Msg("no credentials, clearing local link only")
		err = NewCategorySync(s.store, nil, s.log).Forget(ctx, cat)
		return s.unlinkResult(ctx, span, opUnlinkCategory, msgNoRemoteCall, err)
	}
	if err != nil {
		return s.unlinkResult(ctx, span, opUnlinkCategory, "", err)
	}

	err = NewCategorySync(s.store, s.newRemote(creds), s.log).Delete(ctx, cat)
	return s.unlinkResult(ctx, span, opUnlinkCategory, "", err)
}

func (s *Service) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "catalog."+op, trace.WithAttributes(attrs...))
}

func (s *Service) categoryResult(ctx context.Context, span trace.Span, remoteID string, err error) CategoryResult {
	s.record(ctx, span, opSyncCategory, err)
	if err != nil {
		return CategoryResult{
			Error:      userMessage(err),
			NeedsSetup: errors.Is(err, credentials.ErrNotConfigured),
			Retryable:  Retryable(err),
			Err:        err,
		}
	}
	return CategoryResult{Success: true, RemoteCategoryID: remoteID}
}

func (s *Service) productResult(ctx context.Context, span trace.Span, res ItemResult, err error) ProductResult {
	s.record(ctx, span, opSyncProduct, err)
	out := ProductResult{
		Success:           err == nil,
		RemoteCatalogID:   res.CatalogID,
		RemoteVariationID: res.VariationID,
		RemoteImageID:     res.ImageID,
	}
	if err != nil {
		out.Error = userMessage(err)
		out.NeedsSetup = errors.Is(err, credentials.ErrNotConfigured)
		out.Retryable = Retryable(err)
		out.Err = err
	}
	return out
}

func (s *Service) unlinkResult(ctx context.Context, span trace.Span, op, warning string, err error) UnlinkResult {
	s.record(ctx, span, op, err)
	if err != nil {
		out := UnlinkResult{Error: userMessage(err), Retryable: Retryable(err), Err: err}
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			out.ProductIDs = conflict.ProductIDs
		}
		return out
	}
	return UnlinkResult{Success: true, Warning: warning}
}

func (s *Service) record(ctx context.Context, span trace.Span, op string, err error) {
	opAttr := metric.WithAttributes(attribute.String("operation", op))
	if err == nil {
		s.cntSucceeded.Add(ctx, 1, opAttr)
		metrics.RecordResult(op, "ok")
		span.SetStatus(codes.Ok, "")
		return
	}

	s.cntFailed.Add(ctx, 1, opAttr)
	metrics.RecordResult(op, outcome(err))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.log.Error().Err(err).Str("op", op).Bool("retryable", Retryable(err)).Msg("catalog operation failed")
}

func outcome(err error) string {
	var conflict *ConflictError
	switch {
	case errors.Is(err, credentials.ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.Is(err, ErrImageUpload):
		return "image"
	case Retryable(err):
		return "retryable"
	}
	return "error"
}

// userMessage turns an engine error into text for the person who triggered
// the operation. Setup and auth problems say what to fix; conflicts and
// transient failures only say to retry.
func userMessage(err error) string {
	var (
		dep      *DependencyError
		conflict *ConflictError
		img      *ImageUploadError
		syncErr  *SyncError
		catErr   *CategoryError
	)
	switch {
	case errors.As(err, &dep):
		return "Failed to sync category: " + userMessage(dep.Err)
	case errors.Is(err, credentials.ErrNotConfigured):
		return msgNotConfigured
	case errors.Is(err, ErrAuth):
		return msgAuth
	case errors.As(err, &conflict):
		return fmt.Sprintf("Cannot delete the category from Square while products %s are still linked to it.", joinIDs(conflict.ProductIDs))
	case errors.Is(err, ErrNotLinked):
		return "Not linked to Square."
	case errors.Is(err, db.ErrNotFound):
		return err.Error()
	case errors.As(err, &img):
		return msgImage
	case Retryable(err):
		return msgRetry
	case errors.As(err, &syncErr) && syncErr.Body != "":
		return "Square API error: " + syncErr.Body
	case errors.As(err, &catErr) && catErr.Body != "":
		return "Square API error: " + catErr.Body
	}
	return err.Error()
}

func joinIDs(ids []uint) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}
