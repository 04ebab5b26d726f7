package square

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// smallest valid PNG header, enough for content sniffing
var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(zerolog.Nop(), srv.URL+"/", "token-1", Options{
		APIVersion:     "2024-12-18",
		RequestTimeout: 2 * time.Second,
		ImageTimeout:   2 * time.Second,
		Limiter:        rate.NewLimiter(rate.Inf, 1),
	})
}

func TestUpsertObject(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/catalog/object", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		assert.Equal(t, "2024-12-18", r.Header.Get("Square-Version"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req upsertRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "key-1", req.IdempotencyKey)
		assert.Equal(t, "#cat-7", req.Object.ID)
		assert.Equal(t, TypeCategory, req.Object.Type)

		_, _ = io.WriteString(w, `{"catalog_object":{"type":"CATEGORY","id":"CAT1","version":3},
			"id_mappings":[{"client_object_id":"#cat-7","object_id":"CAT1"}]}`)
	})

	resp, err := c.UpsertObject(context.Background(), "key-1", CatalogObject{
		Type:         TypeCategory,
		ID:           "#cat-7",
		CategoryData: &CategoryData{Name: "Tools"},
	})
	require.NoError(t, err)
	assert.Equal(t, "CAT1", resp.CatalogObject.ID)
	assert.Equal(t, int64(3), resp.CatalogObject.Version)

	id, ok := resp.MappedID("#cat-7")
	assert.True(t, ok)
	assert.Equal(t, "CAT1", id)
	_, ok = resp.MappedID("#other")
	assert.False(t, ok)
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		unauthorized bool
		notFound     bool
		conflict     bool
		transient    bool
	}{
		{"unauthorized", 401, `{"errors":[{"category":"AUTHENTICATION_ERROR","code":"UNAUTHORIZED"}]}`, true, false, false, false},
		{"not found", 404, `{"errors":[{"category":"INVALID_REQUEST_ERROR","code":"NOT_FOUND"}]}`, false, true, false, false},
		{"version mismatch", 400, `{"errors":[{"category":"INVALID_REQUEST_ERROR","code":"VERSION_MISMATCH","detail":"stale"}]}`, false, false, true, false},
		{"http conflict", 409, `{}`, false, false, true, false},
		{"bad request", 400, `{"errors":[{"category":"INVALID_REQUEST_ERROR","code":"INVALID_VALUE","field":"sku"}]}`, false, false, false, false},
		{"server error", 503, `upstream down`, false, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := c.RetrieveObject(context.Background(), "ITEM1")
			require.Error(t, err)

			apiErr, ok := AsAPIError(err)
			require.True(t, ok)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.body, apiErr.Body)
			assert.Equal(t, tt.unauthorized, apiErr.IsUnauthorized())
			assert.Equal(t, tt.notFound, apiErr.IsNotFound())
			assert.Equal(t, tt.conflict, apiErr.IsVersionConflict())
			assert.Equal(t, tt.transient, apiErr.IsTransient())
		})
	}
}

func TestRetrieveObject(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v2/catalog/object/ITEM1", r.URL.Path)
		_, _ = io.WriteString(w, `{"object":{"type":"ITEM","id":"ITEM1","version":42,
			"item_data":{"name":"Hammer","variations":[{"type":"ITEM_VARIATION","id":"VAR1","version":41}]}}}`)
	})

	obj, err := c.RetrieveObject(context.Background(), "ITEM1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), obj.Version)
	require.NotNil(t, obj.FirstVariation())
	assert.Equal(t, "VAR1", obj.FirstVariation().ID)
}

func TestDeleteObjectNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	})

	err := c.DeleteObject(context.Background(), "GONE")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestCreateImageMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/catalog/images", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		var req createImageRequest
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("request")), &req))
		assert.Equal(t, "img-key", req.IdempotencyKey)
		assert.Equal(t, "ITEM1", req.ObjectID)
		assert.True(t, req.IsPrimary)
		assert.Equal(t, TypeImage, req.Image.Type)
		assert.Equal(t, "#AB123456_image", req.Image.ID)
		assert.Equal(t, "Hammer", req.Image.ImageData.Caption)

		f, hdr, err := r.FormFile("image_file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "hammer.png", hdr.Filename)
		assert.Equal(t, "image/png", hdr.Header.Get("Content-Type"))
		data, _ := io.ReadAll(f)
		assert.Equal(t, pngBytes, data)

		_, _ = io.WriteString(w, `{"image":{"type":"IMAGE","id":"IMG1"}}`)
	})

	img, err := c.CreateImage(context.Background(), ImageUpload{
		IdempotencyKey: "img-key",
		ObjectID:       "ITEM1",
		TempID:         "#AB123456_image",
		Caption:        "Hammer",
		FileName:       "hammer.png",
		Data:           pngBytes,
	})
	require.NoError(t, err)
	assert.Equal(t, "IMG1", img.ID)
}

func TestRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(zerolog.Nop(), srv.URL, "t", Options{RequestTimeout: 50 * time.Millisecond})
	_, err := c.RetrieveObject(context.Background(), "X")
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	_, isAPI := AsAPIError(err)
	assert.False(t, isAPI)
}
