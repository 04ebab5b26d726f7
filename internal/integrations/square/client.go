// internal/integrations/square/client.go
package square

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/bartek5186/catalogsync/internal/metrics"
)

const (
	pathObject = "/v2/catalog/object"
	pathImages = "/v2/catalog/images"

	maxResponseBytes = 4 << 20
)

type Options struct {
	APIVersion     string
	RequestTimeout time.Duration // metadata calls
	ImageTimeout   time.Duration // multipart image upload
	// Limiter paces outgoing requests. It is shared between clients built for
	// different calls; nil disables pacing.
	Limiter *rate.Limiter
}

// Client talks to the Square Catalog API with one credential bundle.
type Client struct {
	log     zerolog.Logger
	baseURL string
	token   string
	version string

	http    *http.Client
	imgHTTP *http.Client
	limiter *rate.Limiter
}

func New(log zerolog.Logger, baseURL, accessToken string, opts Options) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.ImageTimeout <= 0 {
		opts.ImageTimeout = 60 * time.Second
	}
	return &Client{
		log:     log,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   accessToken,
		version: opts.APIVersion,
		http:    &http.Client{Timeout: opts.RequestTimeout},
		imgHTTP: &http.Client{Timeout: opts.ImageTimeout},
		limiter: opts.Limiter,
	}
}

// UpsertObject creates or updates one catalog object (POST /v2/catalog/object).
func (c *Client) UpsertObject(ctx context.Context, idempotencyKey string, obj CatalogObject) (*UpsertResponse, error) {
	body, err := json.Marshal(upsertRequest{IdempotencyKey: idempotencyKey, Object: obj})
	if err != nil {
		return nil, fmt.Errorf("encode upsert: %w", err)
	}
	var out UpsertResponse
	if err := c.do(ctx, c.http, http.MethodPost, pathObject, pathObject, bytes.NewReader(body), "application/json", &out); err != nil {
		return nil, err
	}
	if out.CatalogObject == nil {
		return nil, fmt.Errorf("square upsert: response without catalog_object")
	}
	return &out, nil
}

// RetrieveObject fetches the current state of an object, including its version.
func (c *Client) RetrieveObject(ctx context.Context, id string) (*CatalogObject, error) {
	var out retrieveResponse
	if err := c.do(ctx, c.http, http.MethodGet, pathObject+"/"+url.PathEscape(id), pathObject+"/{id}", nil, "", &out); err != nil {
		return nil, err
	}
	if out.Object == nil {
		return nil, fmt.Errorf("square retrieve %s: response without object", id)
	}
	return out.Object, nil
}

// DeleteObject deletes an object and its children. A 404 is returned as an
// *APIError; callers decide whether that counts as done.
func (c *Client) DeleteObject(ctx context.Context, id string) error {
	return c.do(ctx, c.http, http.MethodDelete, pathObject+"/"+url.PathEscape(id), pathObject+"/{id}", nil, "", nil)
}

// CreateImage uploads an image as multipart form data: a "request" JSON part
// and an "image_file" binary part. With ObjectID set the image is attached to
// that item as its primary image.
func (c *Client) CreateImage(ctx context.Context, in ImageUpload) (*CatalogObject, error) {
	meta, err := json.Marshal(createImageRequest{
		IdempotencyKey: in.IdempotencyKey,
		ObjectID:       in.ObjectID,
		IsPrimary:      in.ObjectID != "",
		Image: CatalogObject{
			Type:      TypeImage,
			ID:        in.TempID,
			ImageData: &ImageData{Caption: in.Caption},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode image request: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	reqHdr := make(textproto.MIMEHeader)
	reqHdr.Set("Content-Disposition", `form-data; name="request"`)
	reqHdr.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(reqHdr)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(meta); err != nil {
		return nil, err
	}

	fileHdr := make(textproto.MIMEHeader)
	fileHdr.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="image_file"; filename=%q`, in.FileName))
	fileHdr.Set("Content-Type", mimetype.Detect(in.Data).String())
	part, err = mw.CreatePart(fileHdr)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(in.Data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var out createImageResponse
	if err := c.do(ctx, c.imgHTTP, http.MethodPost, pathImages, pathImages, &buf, mw.FormDataContentType(), &out); err != nil {
		return nil, err
	}
	if out.Image == nil || out.Image.ID == "" {
		return nil, fmt.Errorf("square create image: response without image id")
	}
	return out.Image, nil
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path, endpoint string, body io.Reader, contentType string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("square %s %s: rate limiter: %w", method, endpoint, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Square-Version", c.version)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		metrics.RecordRequest(method, endpoint, 0, time.Since(start))
		c.log.Warn().Err(err).Str("method", method).Str("path", path).Msg("square request failed")
		return fmt.Errorf("square %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	metrics.RecordRequest(method, endpoint, resp.StatusCode, time.Since(start))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("square %s %s: read body: %w", method, path, err)
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("square call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(raw)}
		var er errorResponse
		if json.Unmarshal(raw, &er) == nil {
			apiErr.Errors = er.Errors
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("square %s %s: decode response: %w", method, path, err)
	}
	return nil
}

// IsTimeout reports a client-side timeout of a call.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
