package handlers

import (
	"crypto/subtle"
	"mime/multipart"
	"strings"

	"carlot/config"
	"carlot/models"
	"carlot/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Lister reads the catalogue.
type Lister interface {
	List() []models.Car
}

// Submitter persists an add-car submission.
type Submitter interface {
	Submit(sub storage.Submission) (models.Car, error)
}

// LoginPayload is the expected payload for the Login handler
type LoginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Handler serves the catalogue API.
type Handler struct {
	cfg      *config.Config
	cars     Lister
	ingestor Submitter
}

// New returns a Handler backed by the given catalogue and ingestor.
func New(cfg *config.Config, cars Lister, ingestor Submitter) *Handler {
	return &Handler{cfg: cfg, cars: cars, ingestor: ingestor}
}

// NewApp builds the fiber app with middleware, routes and asset serving.
func NewApp(cfg *config.Config, h *Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit:             cfg.BodyLimit(),
		ErrorHandler:          ErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
	}))

	app.Static(cfg.PublicPrefix, cfg.UploadDir, fiber.Static{Browse: false})

	h.SetupRoutes(app)
	return app
}

// ErrorHandler reduces every error reaching fiber to a bare success flag.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	requestLogger(c).Error().Err(err).Int("status", code).Msg("request failed")
	return c.Status(code).JSON(fiber.Map{"success": false})
}

// SetupRoutes configures the API routes for the application
func (h *Handler) SetupRoutes(app *fiber.App) {
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString("carlot API is running. Use /cars and /add-car.")
	})
	app.Get("/healthcheck", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})

	app.Get("/cars", h.ListCars)
	app.Post("/add-car", h.AddCar)
	app.Post("/login", h.Login)
}

// ListCars returns the whole catalogue in creation order.
func (h *Handler) ListCars(c *fiber.Ctx) error {
	return c.JSON(h.cars.List())
}

// AddCar handles a multipart car submission with up to MaxImages images.
func (h *Handler) AddCar(c *fiber.Ctx) error {
	sub, err := h.parseSubmission(c)
	if err != nil {
		code := fiber.StatusBadRequest
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}
		requestLogger(c).Warn().Err(err).Int("status", code).Msg("submission rejected")
		return c.Status(code).JSON(fiber.Map{"success": false})
	}

	if _, err := h.ingestor.Submit(sub); err != nil {
		requestLogger(c).Error().Err(err).Msg("failed to add car")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false})
	}
	return c.JSON(fiber.Map{"success": true})
}

// Login compares the supplied credentials with the configured admin pair.
// It issues no session; the client only learns whether they matched.
func (h *Handler) Login(c *fiber.Ctx) error {
	payload := new(LoginPayload)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false})
	}

	userOK := subtle.ConstantTimeCompare([]byte(payload.Username), []byte(h.cfg.AdminUser))
	passOK := subtle.ConstantTimeCompare([]byte(payload.Password), []byte(h.cfg.AdminPass))
	return c.JSON(fiber.Map{"success": userOK&passOK == 1})
}

func (h *Handler) parseSubmission(c *fiber.Ctx) (storage.Submission, error) {
	if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		return storage.Submission{Fields: models.CarFields{
			Model:     c.FormValue("model"),
			Year:      c.FormValue("year"),
			Price:     c.FormValue("price"),
			Km:        c.FormValue("km"),
			Condition: c.FormValue("condition"),
		}}, nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return storage.Submission{}, fiber.NewError(fiber.StatusBadRequest, "cannot parse multipart form: "+err.Error())
	}

	files := form.File["images"]
	if err := checkAttachments(files, h.cfg.MaxImages, h.cfg.MaxImageBytes); err != nil {
		return storage.Submission{}, err
	}

	return storage.Submission{
		Fields: models.CarFields{
			Model:     firstValue(form, "model"),
			Year:      firstValue(form, "year"),
			Price:     firstValue(form, "price"),
			Km:        firstValue(form, "km"),
			Condition: firstValue(form, "condition"),
		},
		Files: files,
	}, nil
}

// checkAttachments enforces the per-submission count and per-file size caps
// before anything is written.
func checkAttachments(files []*multipart.FileHeader, maxImages int, maxBytes int64) error {
	if len(files) > maxImages {
		return fiber.NewError(fiber.StatusBadRequest, "too many images")
	}
	for _, fh := range files {
		if fh.Size > maxBytes {
			return fiber.NewError(fiber.StatusRequestEntityTooLarge, "image '"+fh.Filename+"' is too large")
		}
	}
	return nil
}

func firstValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func requestLogger(c *fiber.Ctx) *zerolog.Logger {
	l := log.With().
		Interface("request_id", c.Locals("requestid")).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Logger()
	return &l
}
