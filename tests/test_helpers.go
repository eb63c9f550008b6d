package tests

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

// Upload is one file part of a test multipart body.
type Upload struct {
	Name    string
	Content []byte
}

// EnsureTestStorageDirs creates a temporary data directory with an uploads
// subdirectory and returns the catalogue path inside it.
func EnsureTestStorageDirs(t *testing.T) (cataloguePath string, uploadDir string) {
	t.Helper()
	dataDir := filepath.Join(t.TempDir(), "data")
	uploadDir = filepath.Join(dataDir, "uploads")
	require.NoError(t, os.MkdirAll(uploadDir, 0755), "Failed to create test upload dir")
	return filepath.Join(dataDir, "cars.json"), uploadDir
}

// CreateTestApp initializes a new Fiber app for testing purposes.
func CreateTestApp() *fiber.App {
	return fiber.New(fiber.Config{
		ErrorHandler: func(ctx *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			ctx.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
			return ctx.Status(code).SendString(err.Error())
		},
	})
}

// MultipartBody encodes fields and uploads (as "images" parts) into a
// multipart/form-data body.
func MultipartBody(t *testing.T, fields map[string]string, uploads []Upload) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, u := range uploads {
		part, err := w.CreateFormFile("images", u.Name)
		require.NoError(t, err)
		_, err = part.Write(u.Content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

// FileHeaders round-trips uploads through a multipart reader so tests get
// real *multipart.FileHeader values.
func FileHeaders(t *testing.T, uploads []Upload) []*multipart.FileHeader {
	t.Helper()
	body, contentType := MultipartBody(t, nil, uploads)

	_, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)

	form, err := multipart.NewReader(body, params["boundary"]).ReadForm(32 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { form.RemoveAll() })
	return form.File["images"]
}

// DecodeSuccess reads a {"success":bool} response body.
func DecodeSuccess(t *testing.T, r io.Reader) bool {
	t.Helper()
	var respBody struct {
		Success *bool `json:"success"`
	}
	require.NoError(t, json.NewDecoder(r).Decode(&respBody))
	require.NotNil(t, respBody.Success, "Response should carry a success flag")
	return *respBody.Success
}
