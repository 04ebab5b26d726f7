package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/bartek5186/catalogsync/internal/credentials"
	"github.com/bartek5186/catalogsync/internal/db"
	"github.com/bartek5186/catalogsync/internal/integrations/square"
)

type upsertCall struct {
	Key    string
	Object square.CatalogObject
}

type imageCall struct {
	Key      string
	ObjectID string
	Primary  bool
	FileName string
}

// fakeSquare is an in-memory Square Catalog API with failure injection.
type fakeSquare struct {
	mu      sync.Mutex
	srv     *httptest.Server
	objects map[string]*square.CatalogObject
	seq     int
	clock   int64

	requests  int
	upserts   []upsertCall
	retrieves []string
	deletes   []string
	images    []imageCall

	// injected failures, keyed by object type for upserts
	upsertStatus   map[string]int
	conflicts      int // next N item updates answer VERSION_MISMATCH
	deleteStatus   int
	imageStatus    int
	retrieveStatus int
}

func newFakeSquare(t *testing.T) *fakeSquare {
	t.Helper()
	f := &fakeSquare{
		objects:      map[string]*square.CatalogObject{},
		upsertStatus: map[string]int{},
		clock:        1000,
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeSquare) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++

	if r.Header.Get("Authorization") != "Bearer test-token" {
		writeErr(w, http.StatusUnauthorized, "UNAUTHORIZED")
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v2/catalog/object":
		f.upsert(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v2/catalog/object/"):
		id := strings.TrimPrefix(r.URL.Path, "/v2/catalog/object/")
		f.retrieves = append(f.retrieves, id)
		if f.retrieveStatus != 0 {
			writeErr(w, f.retrieveStatus, "INTERNAL_SERVER_ERROR")
			return
		}
		obj, ok := f.objects[id]
		if !ok {
			writeErr(w, http.StatusNotFound, "NOT_FOUND")
			return
		}
		writeJSON(w, map[string]any{"object": obj})
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/v2/catalog/object/"):
		id := strings.TrimPrefix(r.URL.Path, "/v2/catalog/object/")
		f.deletes = append(f.deletes, id)
		if f.deleteStatus != 0 {
			writeErr(w, f.deleteStatus, "INTERNAL_SERVER_ERROR")
			return
		}
		if _, ok := f.objects[id]; !ok {
			writeErr(w, http.StatusNotFound, "NOT_FOUND")
			return
		}
		delete(f.objects, id)
		writeJSON(w, map[string]any{"deleted_object_ids": []string{id}})
	case r.Method == http.MethodPost && r.URL.Path == "/v2/catalog/images":
		f.createImage(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeSquare) upsert(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var req, work struct {
		IdempotencyKey string               `json:"idempotency_key"`
		Object         square.CatalogObject `json:"object"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "BAD_REQUEST")
		return
	}
	// recorded calls must not share pointers with the stored object
	_ = json.Unmarshal(raw, &work)
	f.upserts = append(f.upserts, upsertCall{Key: req.IdempotencyKey, Object: req.Object})
	obj := work.Object

	if status := f.upsertStatus[obj.Type]; status != 0 {
		writeErr(w, status, "INVALID_VALUE")
		return
	}

	var mappings []square.IDMapping
	if strings.HasPrefix(obj.ID, "#") {
		mappings = append(mappings, square.IDMapping{ClientObjectID: obj.ID, ObjectID: f.newID(obj.Type)})
		obj.ID = mappings[0].ObjectID
	} else {
		stored, ok := f.objects[obj.ID]
		if !ok {
			writeErr(w, http.StatusNotFound, "NOT_FOUND")
			return
		}
		if f.conflicts > 0 && obj.Type == square.TypeItem {
			f.conflicts--
			f.clock++
			stored.Version = f.clock
			writeErr(w, http.StatusBadRequest, "VERSION_MISMATCH")
			return
		}
		if obj.Version != 0 && obj.Version != stored.Version {
			writeErr(w, http.StatusBadRequest, "VERSION_MISMATCH")
			return
		}
	}

	f.clock++
	obj.Version = f.clock
	if obj.ItemData != nil {
		for i := range obj.ItemData.Variations {
			v := &obj.ItemData.Variations[i]
			if strings.HasPrefix(v.ID, "#") {
				id := f.newID(v.Type)
				mappings = append(mappings, square.IDMapping{ClientObjectID: v.ID, ObjectID: id})
				v.ID = id
			}
			v.Version = f.clock
			v.ItemVariationData.ItemID = obj.ID
		}
	}
	f.objects[obj.ID] = &obj
	writeJSON(w, map[string]any{"catalog_object": obj, "id_mappings": mappings})
}

func (f *fakeSquare) createImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeErr(w, http.StatusBadRequest, "BAD_REQUEST")
		return
	}
	var req struct {
		IdempotencyKey string `json:"idempotency_key"`
		ObjectID       string `json:"object_id"`
		IsPrimary      bool   `json:"is_primary"`
	}
	_ = json.Unmarshal([]byte(r.FormValue("request")), &req)
	file, hdr, err := r.FormFile("image_file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "MISSING_REQUIRED_PARAMETER")
		return
	}
	_, _ = io.Copy(io.Discard, file)
	file.Close()
	f.images = append(f.images, imageCall{Key: req.IdempotencyKey, ObjectID: req.ObjectID, Primary: req.IsPrimary, FileName: hdr.Filename})

	if f.imageStatus != 0 {
		writeErr(w, f.imageStatus, "INTERNAL_SERVER_ERROR")
		return
	}
	item, ok := f.objects[req.ObjectID]
	if !ok {
		writeErr(w, http.StatusNotFound, "NOT_FOUND")
		return
	}
	id := f.newID(square.TypeImage)
	item.ItemData.ImageIDs = []string{id}
	img := square.CatalogObject{Type: square.TypeImage, ID: id, ImageData: &square.ImageData{}}
	f.objects[id] = &img
	writeJSON(w, map[string]any{"image": img})
}

func (f *fakeSquare) newID(kind string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", kind, f.seq)
}

func (f *fakeSquare) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func (f *fakeSquare) allUpserts() []upsertCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]upsertCall(nil), f.upserts...)
}

func (f *fakeSquare) retrieved() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.retrieves...)
}

func (f *fakeSquare) deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

func (f *fakeSquare) imageCalls() []imageCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]imageCall(nil), f.images...)
}

func (f *fakeSquare) objectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func (f *fakeSquare) lastUpsert() upsertCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts[len(f.upserts)-1]
}

func (f *fakeSquare) set(fn func(f *fakeSquare)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"errors": []square.Error{{Category: "INVALID_REQUEST_ERROR", Code: code, Detail: "fake " + code}},
	})
}

// testEnv wires a Service to a temporary SQLite database and the fake API.
type testEnv struct {
	t      *testing.T
	fake   *fakeSquare
	gdb    *db.Handle
	store  *db.Store
	svc    *Service
	images string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fake := newFakeSquare(t)

	h, err := db.Open(db.DriverSQLitePure, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, h.Migrate())
	t.Cleanup(func() { _ = h.Close() })

	store := db.NewStore(h.DB)
	ctx := context.Background()
	require.NoError(t, store.SetSetting(ctx, credentials.KeyEnvironment, "sandbox"))
	require.NoError(t, store.SetSetting(ctx, credentials.KeySandboxAccessToken, "test-token"))
	require.NoError(t, store.SetSetting(ctx, credentials.KeySandboxLocationID, "LOC1"))

	resolver := credentials.NewResolver(store, fake.srv.URL, "http://production.invalid")
	newRemote := func(c credentials.Credentials) RemoteCatalog {
		return square.New(zerolog.Nop(), c.BaseURL, c.AccessToken, square.Options{
			APIVersion:     "2024-12-18",
			RequestTimeout: 5 * time.Second,
			ImageTimeout:   5 * time.Second,
		})
	}

	images := t.TempDir()
	svc := NewService(store, resolver, newRemote, Options{Currency: "USD", ImageRoot: images}, zerolog.Nop())
	return &testEnv{t: t, fake: fake, gdb: h, store: store, svc: svc, images: images}
}

func (e *testEnv) addCategory(name string) *db.Category {
	e.t.Helper()
	c := &db.Category{Name: name}
	require.NoError(e.t, e.gdb.DB.Create(c).Error)
	return c
}

func (e *testEnv) addProduct(p *db.Product) *db.Product {
	e.t.Helper()
	if p.Title == "" {
		p.Title = "Product " + p.SKU
	}
	require.NoError(e.t, e.gdb.DB.Create(p).Error)
	return p
}

func (e *testEnv) product(id uint) *db.Product {
	e.t.Helper()
	p, err := e.store.Product(context.Background(), id)
	require.NoError(e.t, err)
	return p
}

func (e *testEnv) category(id uint) *db.Category {
	e.t.Helper()
	c, err := e.store.Category(context.Background(), id)
	require.NoError(e.t, err)
	return c
}

func price(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func attrs(s string) datatypes.JSON { return datatypes.JSON(s) }

func strp(s string) *string { return &s }
