package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"carlot/config"
	"carlot/database"
	"carlot/models"
	"carlot/storage"
	"carlot/tests"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	cfg    *config.Config
	store  *database.Store
	assets *storage.Assets
	app    *fiber.App
}

// setupTestEnv wires a real store and ingestor over temp dirs behind a bare test app.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cataloguePath, uploadDir := tests.EnsureTestStorageDirs(t)

	cfg := config.Default()
	cfg.CataloguePath = cataloguePath
	cfg.UploadDir = uploadDir

	store, err := database.Open(cataloguePath)
	require.NoError(t, err)
	assets, err := storage.NewAssets(uploadDir, cfg.PublicPrefix)
	require.NoError(t, err)

	app := tests.CreateTestApp()
	New(cfg, store, storage.NewIngestor(assets, store)).SetupRoutes(app)

	return &testEnv{cfg: cfg, store: store, assets: assets, app: app}
}

func postCar(t *testing.T, app *fiber.App, fields map[string]string, uploads []tests.Upload) (int, bool) {
	t.Helper()
	body, contentType := tests.MultipartBody(t, fields, uploads)
	req := httptest.NewRequest("POST", "/add-car", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, tests.DecodeSuccess(t, resp.Body)
}

func getCars(t *testing.T, app *fiber.App) []models.Car {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", "/cars", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var cars []models.Car
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cars))
	return cars
}

func TestListCarsAPI(t *testing.T) {
	env := setupTestEnv(t)

	t.Run("Empty catalogue", func(t *testing.T) {
		resp, err := env.app.Test(httptest.NewRequest("GET", "/cars", nil), -1)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)

		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "[]", string(raw))
	})

	t.Run("Creation order", func(t *testing.T) {
		require.NoError(t, env.store.Append(models.NewCar(1, models.CarFields{Model: "First"}, nil)))
		require.NoError(t, env.store.Append(models.NewCar(2, models.CarFields{Model: "Second"}, nil)))

		cars := getCars(t, env.app)
		require.Len(t, cars, 2)
		assert.Equal(t, "First", cars[0].Model)
		assert.Equal(t, "Second", cars[1].Model)
	})
}

func TestAddCarAPI(t *testing.T) {
	t.Run("Civic without images", func(t *testing.T) {
		env := setupTestEnv(t)
		status, ok := postCar(t, env.app, map[string]string{
			"model": "Civic", "year": "2020", "price": "12000", "km": "30000", "condition": "Used",
		}, nil)
		assert.Equal(t, fiber.StatusOK, status)
		assert.True(t, ok)

		cars := getCars(t, env.app)
		require.Len(t, cars, 1)
		car := cars[0]
		assert.NotZero(t, car.ID)
		assert.Equal(t, "Civic", car.Model)
		assert.Equal(t, "2020", car.Year)
		assert.Equal(t, "12000", car.Price)
		assert.Equal(t, "30000", car.Km)
		assert.Equal(t, "Used", car.Condition)
		assert.Equal(t, []string{}, car.Images)
	})

	t.Run("Defaults for omitted fields", func(t *testing.T) {
		env := setupTestEnv(t)
		status, ok := postCar(t, env.app, map[string]string{"price": "9000", "model": ""}, nil)
		assert.Equal(t, fiber.StatusOK, status)
		assert.True(t, ok)

		cars := getCars(t, env.app)
		require.Len(t, cars, 1)
		assert.Equal(t, "Unknown", cars[0].Model)
		assert.Equal(t, "-", cars[0].Year)
		assert.Equal(t, "9000", cars[0].Price)
		assert.Equal(t, "-", cars[0].Km)
		assert.Equal(t, "-", cars[0].Condition)
	})

	t.Run("Images stored and served", func(t *testing.T) {
		env := setupTestEnv(t)
		status, ok := postCar(t, env.app, map[string]string{"model": "Swift"}, []tests.Upload{
			{Name: "front view.jpg", Content: []byte("front")},
			{Name: "front view.jpg", Content: []byte("front again")},
			{Name: "rear.jpg", Content: []byte("rear")},
		})
		require.Equal(t, fiber.StatusOK, status)
		require.True(t, ok)

		cars := getCars(t, env.app)
		require.Len(t, cars, 1)
		images := cars[0].Images
		require.Len(t, images, 3)
		assert.True(t, strings.HasSuffix(images[0], "-frontview.jpg"))
		assert.True(t, strings.HasSuffix(images[1], "-frontview.jpg"))
		assert.True(t, strings.HasSuffix(images[2], "-rear.jpg"))
		assert.NotEqual(t, images[0], images[1], "Same-name uploads must get distinct paths")

		for i, want := range []string{"front", "front again", "rear"} {
			local, found := env.assets.LocalPath(images[i])
			require.True(t, found)
			content, err := os.ReadFile(local)
			require.NoError(t, err)
			assert.Equal(t, want, string(content))
		}
	})

	t.Run("Eleven images rejected", func(t *testing.T) {
		env := setupTestEnv(t)
		uploads := make([]tests.Upload, 11)
		for i := range uploads {
			uploads[i] = tests.Upload{Name: fmt.Sprintf("%d.jpg", i), Content: []byte("x")}
		}

		status, ok := postCar(t, env.app, map[string]string{"model": "Too many"}, uploads)
		assert.Equal(t, fiber.StatusBadRequest, status)
		assert.False(t, ok)
		assert.Equal(t, 0, env.store.Count(), "Rejected submissions must not reach the store")

		entries, err := os.ReadDir(env.assets.Dir())
		require.NoError(t, err)
		assert.Empty(t, entries, "Rejected submissions must not write files")
	})

	t.Run("Ten images accepted", func(t *testing.T) {
		env := setupTestEnv(t)
		uploads := make([]tests.Upload, 10)
		for i := range uploads {
			uploads[i] = tests.Upload{Name: fmt.Sprintf("%d.jpg", i), Content: []byte("x")}
		}

		status, ok := postCar(t, env.app, nil, uploads)
		assert.Equal(t, fiber.StatusOK, status)
		assert.True(t, ok)
		cars := getCars(t, env.app)
		require.Len(t, cars, 1)
		assert.Len(t, cars[0].Images, 10)
	})

	t.Run("Oversized image rejected", func(t *testing.T) {
		env := setupTestEnv(t)
		env.cfg.MaxImageBytes = 4

		status, ok := postCar(t, env.app, map[string]string{"model": "Big"}, []tests.Upload{
			{Name: "big.jpg", Content: []byte("12345")},
		})
		assert.Equal(t, fiber.StatusRequestEntityTooLarge, status)
		assert.False(t, ok)
		assert.Equal(t, 0, env.store.Count())
	})

	t.Run("URL encoded body", func(t *testing.T) {
		env := setupTestEnv(t)
		req := httptest.NewRequest("POST", "/add-car", strings.NewReader("model=Polo&km=100"))
		req.Header.Set("Content-Type", fiber.MIMEApplicationForm)
		resp, err := env.app.Test(req, -1)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.True(t, tests.DecodeSuccess(t, resp.Body))

		cars := getCars(t, env.app)
		require.Len(t, cars, 1)
		assert.Equal(t, "Polo", cars[0].Model)
		assert.Equal(t, "100", cars[0].Km)
	})

	t.Run("Asset write failure", func(t *testing.T) {
		env := setupTestEnv(t)
		require.NoError(t, os.RemoveAll(env.assets.Dir()))

		status, ok := postCar(t, env.app, map[string]string{"model": "Lost"}, []tests.Upload{
			{Name: "a.jpg", Content: []byte("a")},
		})
		assert.Equal(t, fiber.StatusInternalServerError, status)
		assert.False(t, ok)
		assert.Equal(t, 0, env.store.Count())
	})
}

func TestConcurrentAddCarAPI(t *testing.T) {
	env := setupTestEnv(t)

	const m = 20
	var wg sync.WaitGroup
	for i := 0; i < m; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body, contentType := tests.MultipartBody(t, map[string]string{"model": fmt.Sprintf("Car %d", i)},
				[]tests.Upload{{Name: "same name.jpg", Content: []byte{byte(i)}}})
			req := httptest.NewRequest("POST", "/add-car", body)
			req.Header.Set("Content-Type", contentType)
			resp, err := env.app.Test(req, -1)
			if assert.NoError(t, err) {
				assert.Equal(t, fiber.StatusOK, resp.StatusCode)
				resp.Body.Close()
			}
		}(i)
	}
	wg.Wait()

	cars := getCars(t, env.app)
	require.Len(t, cars, m, "Concurrent submissions must not lose records")

	ids := make(map[int64]bool, m)
	paths := make(map[string]bool, m)
	for _, car := range cars {
		ids[car.ID] = true
		require.Len(t, car.Images, 1)
		paths[car.Images[0]] = true
	}
	assert.Len(t, ids, m, "Ids must be unique")
	assert.Len(t, paths, m, "Image paths must be unique")
}

type stubSubmitter struct{ err error }

func (s stubSubmitter) Submit(storage.Submission) (models.Car, error) {
	return models.Car{}, s.err
}

func TestAddCarSubmitterError(t *testing.T) {
	app := tests.CreateTestApp()
	New(config.Default(), &database.Store{}, stubSubmitter{err: errors.New("disk full")}).SetupRoutes(app)

	status, ok := postCar(t, app, map[string]string{"model": "X"}, nil)
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.False(t, ok)
}

func TestLoginAPI(t *testing.T) {
	env := setupTestEnv(t)

	login := func(t *testing.T, body string) (int, bool) {
		req := httptest.NewRequest("POST", "/login", bytes.NewReader([]byte(body)))
		req.Header.Set("Content-Type", "application/json")
		resp, err := env.app.Test(req, -1)
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode, tests.DecodeSuccess(t, resp.Body)
	}

	t.Run("Valid credentials", func(t *testing.T) {
		status, ok := login(t, `{"username":"Admin","password":"12345"}`)
		assert.Equal(t, fiber.StatusOK, status)
		assert.True(t, ok)
	})

	t.Run("Wrong password", func(t *testing.T) {
		status, ok := login(t, `{"username":"Admin","password":"nope"}`)
		assert.Equal(t, fiber.StatusOK, status)
		assert.False(t, ok)
	})

	t.Run("Empty payload", func(t *testing.T) {
		_, ok := login(t, `{}`)
		assert.False(t, ok)
	})

	t.Run("Malformed JSON", func(t *testing.T) {
		status, ok := login(t, "not json")
		assert.Equal(t, fiber.StatusBadRequest, status)
		assert.False(t, ok)
	})
}

func TestNewApp(t *testing.T) {
	env := setupTestEnv(t)
	ingestor := storage.NewIngestor(env.assets, env.store)
	app := NewApp(env.cfg, New(env.cfg, env.store, ingestor))

	_, ok := postCar(t, app, map[string]string{"model": "Served"}, []tests.Upload{
		{Name: "photo.jpg", Content: []byte("jpeg-bytes")},
	})
	require.True(t, ok)

	cars := getCars(t, app)
	require.Len(t, cars, 1)
	require.Len(t, cars[0].Images, 1)

	t.Run("Uploaded asset served under prefix", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", cars[0].Images[0], nil), -1)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "jpeg-bytes", string(raw))
	})

	t.Run("Request id header", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/healthcheck", nil), -1)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get(fiber.HeaderXRequestID))
	})

	t.Run("Unknown route reports failure flag", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/no-such-route", nil), -1)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
		assert.False(t, tests.DecodeSuccess(t, resp.Body))
	})
}

func TestCheckAttachments(t *testing.T) {
	headers := tests.FileHeaders(t, []tests.Upload{
		{Name: "a.jpg", Content: []byte("aaaa")},
		{Name: "b.jpg", Content: []byte("bb")},
	})

	assert.NoError(t, checkAttachments(headers, 2, 4))
	assert.NoError(t, checkAttachments(nil, 0, 1))

	err := checkAttachments(headers, 1, 4)
	require.Error(t, err)
	assert.Equal(t, fiber.StatusBadRequest, err.(*fiber.Error).Code)

	err = checkAttachments(headers, 2, 3)
	require.Error(t, err)
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, err.(*fiber.Error).Code)
}
