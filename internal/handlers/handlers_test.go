package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gallery/server/internal/config"
	"github.com/gallery/server/internal/models"
	"github.com/gallery/server/internal/repository"
	"github.com/gallery/server/internal/services"
)

const testAPIKey = "test-api-key"

type testServer struct {
	t     *testing.T
	store *repository.Store
	srv   *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testAPIKey), bcrypt.MinCost)
	require.NoError(t, err)

	store := repository.NewInMemoryStore()
	hub := services.NewWebSocketHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	objects, err := services.NewLocalObjectStore(t.TempDir(), "/media")
	require.NoError(t, err)

	ordering := services.NewOrderingService(store.Tx, hub, nil, services.OrderingOptions{
		MaxRetries: 3, BaseDelay: time.Millisecond, Timeout: 5 * time.Second,
	})
	gallery := services.NewGalleryService(store.Repositories, ordering, objects, hub)
	uploads := services.NewUploadService(store.Photos, objects, services.NewEXIFService(), services.NewThumbnailService(64, 80),
		hub, nil, []string{".jpg", ".jpeg"}, 1<<20)
	sessionCfg := config.Session{CookieName: "gallery_session", TTLHours: 1}
	auth := services.NewAuthService(store.Sessions, config.OAuth{},
		config.Security{APIKeyHash: string(hash), APIKeyHeader: "X-API-Key"}, sessionCfg, nil)

	router := NewRouter(RouterConfig{
		Auth:         auth,
		APIKeyHeader: "X-API-Key",
		CookieName:   sessionCfg.CookieName,
		Categories:   NewCategoryHandler(gallery, ordering),
		Photos:       NewPhotoHandler(gallery, uploads, 1<<20),
		Health:       NewHealthHandler(store),
		Sessions:     NewAuthHandler(auth, sessionCfg),
		WebSocket:    NewWebSocketHandler(hub),
		Admin:        NewAdminHandler(services.NewMaintenanceService(store.Categories, store.Sessions, ordering), hub),
		MediaRoot:    objects.Root(),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{t: t, store: store, srv: srv}
}

// do sends a request; authed requests carry the API key
func (s *testServer) do(method, path string, body interface{}, authed bool) (int, []byte) {
	s.t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	require.NoError(s.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("X-API-Key", testAPIKey)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(s.t, err)
	return resp.StatusCode, raw
}

func (s *testServer) createCategory(name string) *models.Category {
	s.t.Helper()
	status, raw := s.do(http.MethodPost, "/api/categories", models.CreateCategoryRequest{Name: name}, true)
	require.Equal(s.t, http.StatusCreated, status, string(raw))
	var c models.Category
	require.NoError(s.t, json.Unmarshal(raw, &c))
	return &c
}

func (s *testServer) createPhoto(title string) *models.Photo {
	s.t.Helper()
	status, raw := s.do(http.MethodPost, "/api/photos", models.CreatePhotoRequest{
		Title: title, Filename: title + ".jpg", LocationTaken: "Lisbon", DateTaken: "2023-05-01",
	}, true)
	require.Equal(s.t, http.StatusCreated, status, string(raw))
	var p models.Photo
	require.NoError(s.t, json.Unmarshal(raw, &p))
	return &p
}

func (s *testServer) order(categoryID string) []string {
	s.t.Helper()
	status, raw := s.do(http.MethodGet, "/api/categories/"+categoryID+"/photos", nil, false)
	require.Equal(s.t, http.StatusOK, status, string(raw))
	var list models.MembershipListResponse
	require.NoError(s.t, json.Unmarshal(raw, &list))
	out := make([]string, len(list.Memberships))
	for i, m := range list.Memberships {
		require.Equal(s.t, i+1, m.DisplayOrder)
		out[i] = m.PhotoID
	}
	return out
}

func decodeError(t *testing.T, raw []byte) models.ErrorResponse {
	t.Helper()
	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	return body
}

func TestMembershipEndpoints(t *testing.T) {
	s := newTestServer(t)
	cat := s.createCategory("Travel")
	a, b, c := s.createPhoto("a"), s.createPhoto("b"), s.createPhoto("c")
	base := "/api/categories/" + cat.ID + "/photos"

	t.Run("append then insert at front", func(t *testing.T) {
		status, _ := s.do(http.MethodPost, base, models.AddMembershipRequest{PhotoID: a.ID}, true)
		require.Equal(t, http.StatusCreated, status)
		status, _ = s.do(http.MethodPost, base, models.AddMembershipRequest{PhotoID: b.ID}, true)
		require.Equal(t, http.StatusCreated, status)

		one := 1
		status, raw := s.do(http.MethodPost, base, models.AddMembershipRequest{PhotoID: c.ID, DisplayOrder: &one}, true)
		require.Equal(t, http.StatusCreated, status)
		var m models.Membership
		require.NoError(t, json.Unmarshal(raw, &m))
		assert.Equal(t, 1, m.DisplayOrder)

		assert.Equal(t, []string{c.ID, a.ID, b.ID}, s.order(cat.ID))
	})

	t.Run("writes require auth", func(t *testing.T) {
		status, raw := s.do(http.MethodPost, base, models.AddMembershipRequest{PhotoID: a.ID}, false)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "unauthorized", decodeError(t, raw).Error)
	})

	t.Run("error mapping", func(t *testing.T) {
		tests := []struct {
			name       string
			method     string
			path       string
			body       interface{}
			wantStatus int
			wantCode   string
		}{
			{"duplicate", http.MethodPost, base, models.AddMembershipRequest{PhotoID: a.ID}, http.StatusConflict, "duplicate_membership"},
			{"position past end", http.MethodPost, base, map[string]interface{}{"photo_id": s.createPhoto("d").ID, "display_order": 9}, http.StatusBadRequest, "invalid_position"},
			{"position zero", http.MethodPost, base, map[string]interface{}{"photo_id": s.createPhoto("e").ID, "display_order": 0}, http.StatusBadRequest, "invalid_position"},
			{"unknown category", http.MethodPost, "/api/categories/nope/photos", models.AddMembershipRequest{PhotoID: a.ID}, http.StatusNotFound, "category_not_found"},
			{"unknown photo", http.MethodPost, base, models.AddMembershipRequest{PhotoID: "nope"}, http.StatusNotFound, "photo_not_found"},
			{"missing photo id", http.MethodPost, base, map[string]interface{}{}, http.StatusBadRequest, "photo_id_required"},
			{"unknown field", http.MethodPost, base, map[string]interface{}{"photo": a.ID}, http.StatusBadRequest, "invalid_body"},
			{"move out of range", http.MethodPut, base + "/" + a.ID, models.MoveMembershipRequest{DisplayOrder: 4}, http.StatusBadRequest, "invalid_position"},
			{"move non-member", http.MethodPut, base + "/nope", models.MoveMembershipRequest{DisplayOrder: 1}, http.StatusNotFound, "membership_not_found"},
			{"remove non-member", http.MethodDelete, base + "/nope", nil, http.StatusNotFound, "membership_not_found"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				status, raw := s.do(tt.method, tt.path, tt.body, true)
				assert.Equal(t, tt.wantStatus, status, string(raw))
				assert.Equal(t, tt.wantCode, decodeError(t, raw).Error)
			})
		}
		assert.Equal(t, []string{c.ID, a.ID, b.ID}, s.order(cat.ID), "failed requests leave the order untouched")
	})

	t.Run("move and remove", func(t *testing.T) {
		status, raw := s.do(http.MethodPut, base+"/"+c.ID, map[string]interface{}{"displayOrder": 3}, true)
		require.Equal(t, http.StatusOK, status, string(raw))
		var moved models.Membership
		require.NoError(t, json.Unmarshal(raw, &moved))
		assert.Equal(t, 3, moved.DisplayOrder)
		assert.False(t, moved.AddedAt.IsZero(), "move returns the stored added time")
		assert.Equal(t, []string{a.ID, b.ID, c.ID}, s.order(cat.ID))

		status, _ = s.do(http.MethodDelete, base+"/"+a.ID, nil, true)
		require.Equal(t, http.StatusNoContent, status)
		assert.Equal(t, []string{b.ID, c.ID}, s.order(cat.ID))
	})

	t.Run("category display", func(t *testing.T) {
		status, raw := s.do(http.MethodGet, "/api/categories/"+cat.ID, nil, false)
		require.Equal(t, http.StatusOK, status)
		var display models.CategoryDisplay
		require.NoError(t, json.Unmarshal(raw, &display))
		require.Len(t, display.Photos, 2)
		assert.Equal(t, b.ID, display.Photos[0].Photo.ID)
		assert.Equal(t, 2, display.Category.PhotoCount)
	})

	t.Run("deleting a photo closes the gap", func(t *testing.T) {
		status, _ := s.do(http.MethodDelete, "/api/photos/"+b.ID, nil, true)
		require.Equal(t, http.StatusNoContent, status)
		assert.Equal(t, []string{c.ID}, s.order(cat.ID))
	})

	t.Run("deleting the category", func(t *testing.T) {
		status, _ := s.do(http.MethodDelete, "/api/categories/"+cat.ID, nil, true)
		require.Equal(t, http.StatusNoContent, status)
		status, raw := s.do(http.MethodGet, "/api/categories/"+cat.ID+"/photos", nil, false)
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "category_not_found", decodeError(t, raw).Error)
	})
}

func TestCategoryAndPhotoEndpoints(t *testing.T) {
	s := newTestServer(t)

	t.Run("category validation", func(t *testing.T) {
		status, raw := s.do(http.MethodPost, "/api/categories", models.CreateCategoryRequest{Name: ""}, true)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid_category", decodeError(t, raw).Error)
	})

	t.Run("category update", func(t *testing.T) {
		cat := s.createCategory("Old")
		name := "New"
		status, raw := s.do(http.MethodPut, "/api/categories/"+cat.ID, models.UpdateCategoryRequest{Name: &name}, true)
		require.Equal(t, http.StatusOK, status)
		var got models.Category
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, "New", got.Name)

		status, raw = s.do(http.MethodGet, "/api/categories", nil, false)
		require.Equal(t, http.StatusOK, status)
		var all []models.Category
		require.NoError(t, json.Unmarshal(raw, &all))
		assert.Len(t, all, 1)
	})

	t.Run("photo create rejects bad input", func(t *testing.T) {
		status, raw := s.do(http.MethodPost, "/api/photos", models.CreatePhotoRequest{
			Title: "x", Filename: "x.jpg", LocationTaken: "here", DateTaken: "someday",
		}, true)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid_photo", decodeError(t, raw).Error)

		status, raw = s.do(http.MethodPost, "/api/photos", models.CreatePhotoRequest{
			Title: "x", Filename: "x.jpg", LocationTaken: "here", DateTaken: "2020-01-01", URL: "javascript:alert(1)",
		}, true)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid_url", decodeError(t, raw).Error)
	})

	t.Run("photo get, update and list", func(t *testing.T) {
		p := s.createPhoto("harbour")

		title := "Harbour at dusk"
		status, _ := s.do(http.MethodPut, "/api/photos/"+p.ID, models.UpdatePhotoRequest{Title: &title}, true)
		require.Equal(t, http.StatusOK, status)

		status, raw := s.do(http.MethodGet, "/api/photos/"+p.ID, nil, false)
		require.Equal(t, http.StatusOK, status)
		var detail models.PhotoDetailResponse
		require.NoError(t, json.Unmarshal(raw, &detail))
		assert.Equal(t, title, detail.Title)
		assert.NotNil(t, detail.CategoryIDs)

		status, raw = s.do(http.MethodGet, "/api/photos?skip=0&take=1", nil, false)
		require.Equal(t, http.StatusOK, status)
		var page models.PhotoListResponse
		require.NoError(t, json.Unmarshal(raw, &page))
		assert.Len(t, page.Photos, 1)
		assert.Equal(t, 1, page.Take)

		status, _ = s.do(http.MethodGet, "/api/photos/missing", nil, false)
		assert.Equal(t, http.StatusNotFound, status)
	})
}

func TestUploadEndpoint(t *testing.T) {
	s := newTestServer(t)

	img := image.NewRGBA(image.Rect(0, 0, 120, 80))
	for x := 0; x < 120; x++ {
		for y := 0; y < 80; y++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 200, 255})
		}
	}
	var jpg bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpg, img, nil))

	upload := func(filename string, data []byte, fields map[string]string, authed bool) (int, []byte) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
		for k, v := range fields {
			require.NoError(t, mw.WriteField(k, v))
		}
		require.NoError(t, mw.Close())

		req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/api/photos/upload", &body)
		require.NoError(t, err)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		if authed {
			req.Header.Set("X-API-Key", testAPIKey)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, raw
	}

	t.Run("stores the file and serves it", func(t *testing.T) {
		status, raw := upload("beach.jpg", jpg.Bytes(), map[string]string{
			"locationTaken": "Algarve", "dateTaken": "2022-08-15",
		}, true)
		require.Equal(t, http.StatusCreated, status, string(raw))

		var result models.UploadResult
		require.NoError(t, json.Unmarshal(raw, &result))
		assert.Equal(t, "beach", result.Photo.Title)
		assert.Equal(t, int64(jpg.Len()), result.FileSize)
		require.NotEmpty(t, result.Photo.URL)

		resp, err := http.Get(s.srv.URL + result.Photo.URL)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("rejections", func(t *testing.T) {
		tests := []struct {
			name       string
			filename   string
			fields     map[string]string
			authed     bool
			wantStatus int
		}{
			{"unauthenticated", "a.jpg", map[string]string{"locationTaken": "x", "dateTaken": "2022-01-01"}, false, http.StatusUnauthorized},
			{"bad extension", "a.exe", map[string]string{"locationTaken": "x", "dateTaken": "2022-01-01"}, true, http.StatusBadRequest},
			{"no date and no exif", "a.jpg", map[string]string{"locationTaken": "x"}, true, http.StatusBadRequest},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				status, raw := upload(tt.filename, jpg.Bytes(), tt.fields, tt.authed)
				assert.Equal(t, tt.wantStatus, status, string(raw))
			})
		}
	})
}

func TestHealthAndAuthEndpoints(t *testing.T) {
	s := newTestServer(t)

	t.Run("health", func(t *testing.T) {
		status, raw := s.do(http.MethodGet, "/api/health", nil, false)
		require.Equal(t, http.StatusOK, status)
		var health models.HealthResponse
		require.NoError(t, json.Unmarshal(raw, &health))
		assert.Equal(t, "healthy", health.Status)
		assert.Equal(t, "ok", health.Database)
	})

	t.Run("login without oauth is not found", func(t *testing.T) {
		status, raw := s.do(http.MethodGet, "/auth/login", nil, false)
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "oauth_disabled", decodeError(t, raw).Error)
	})

	t.Run("callback rejects a mismatched state", func(t *testing.T) {
		status, raw := s.do(http.MethodGet, "/auth/callback?code=x&state=y", nil, false)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid_state", decodeError(t, raw).Error)
	})

	t.Run("session cookie authenticates", func(t *testing.T) {
		session := models.NewSession("ana@example.com", "", "", time.Hour)
		require.NoError(t, s.store.Sessions.Add(context.Background(), session))

		req, err := http.NewRequest(http.MethodGet, s.srv.URL+"/api/me", nil)
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: "gallery_session", Value: session.ID})
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var me MeResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
		assert.Equal(t, "ana@example.com", me.Subject)
		assert.Equal(t, "session", me.Method)

		req, err = http.NewRequest(http.MethodPost, s.srv.URL+"/auth/logout", nil)
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: "gallery_session", Value: session.ID})
		resp2, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp2.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp2.StatusCode)

		got, err := s.store.Sessions.GetByID(context.Background(), session.ID)
		require.NoError(t, err)
		assert.Nil(t, got, fmt.Sprintf("session %s should be gone", session.ID))
	})
}

func TestAdminAndVersionEndpoints(t *testing.T) {
	s := newTestServer(t)

	t.Run("version is public", func(t *testing.T) {
		status, raw := s.do(http.MethodGet, "/api/version", nil, false)
		require.Equal(t, http.StatusOK, status)
		var v VersionResponse
		require.NoError(t, json.Unmarshal(raw, &v))
		assert.Equal(t, Version, v.Version)
		assert.NotEmpty(t, v.GoVersion)
	})

	t.Run("admin requires auth", func(t *testing.T) {
		status, _ := s.do(http.MethodGet, "/api/admin/status", nil, false)
		assert.Equal(t, http.StatusUnauthorized, status)
		status, _ = s.do(http.MethodPost, "/api/admin/maintenance", nil, false)
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("maintenance checks every category", func(t *testing.T) {
		cat := s.createCategory("Trips")
		s.createCategory("Family")
		photo := s.createPhoto("harbour")
		status, raw := s.do(http.MethodPost, "/api/categories/"+cat.ID+"/photos", models.AddMembershipRequest{PhotoID: photo.ID}, true)
		require.Equal(t, http.StatusCreated, status, string(raw))

		status, raw = s.do(http.MethodPost, "/api/admin/maintenance", nil, true)
		require.Equal(t, http.StatusOK, status, string(raw))
		var result services.MaintenanceStatus
		require.NoError(t, json.Unmarshal(raw, &result))
		assert.Equal(t, 2, result.CategoriesChecked)
		assert.Empty(t, result.CorruptCategories)
		assert.False(t, result.Running)

		status, raw = s.do(http.MethodGet, "/api/admin/status", nil, true)
		require.Equal(t, http.StatusOK, status, string(raw))
		var sys SystemStatusResponse
		require.NoError(t, json.Unmarshal(raw, &sys))
		assert.Equal(t, 2, sys.Maintenance.CategoriesChecked)
		assert.False(t, sys.Maintenance.LastRun.IsZero())
	})
}
