package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"spa-cms/internal/editor"
	"spa-cms/internal/imaging"
	"spa-cms/internal/logger"
	"spa-cms/internal/records"
	"spa-cms/internal/session"
	"spa-cms/internal/storage"
)

// UserIDKey is the fiber local holding the authenticated user id.
const UserIDKey = "user_id"

// RecordLister pages through saved records of one kind.
type RecordLister interface {
	List(ctx context.Context, kind string, page, perPage int) ([]records.Summary, int, error)
}

type Handler struct {
	registry *editor.Registry
	sessions *session.Manager
	records  RecordLister
	uploads  *storage.Uploader
	log      *logger.Logger
}

func NewHandler(reg *editor.Registry, sessions *session.Manager, recs RecordLister, uploads *storage.Uploader, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{registry: reg, sessions: sessions, records: recs, uploads: uploads, log: log.With("component", "api")}
}

// ListEditors handles GET /api/editors
func (h *Handler) ListEditors(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.registry.List()})
}

// ListRecords handles GET /api/editors/:kind/records
func (h *Handler) ListRecords(c *fiber.Ctx) error {
	kind := c.Params("kind")
	if _, err := h.registry.Get(kind); err != nil {
		return err
	}
	page, perPage := c.QueryInt("page", 1), c.QueryInt("per_page", 25)
	rows, total, err := h.records.List(c.UserContext(), kind, page, perPage)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"data": rows,
		"meta": fiber.Map{
			"page":     page,
			"per_page": perPage,
			"total":    total,
		},
	})
}

// OpenSession handles POST /api/editors/:kind/sessions
func (h *Handler) OpenSession(c *fiber.Ctx) error {
	userID, _ := c.Locals(UserIDKey).(string)
	s, err := h.sessions.Open(c.UserContext(), c.Params("kind"), c.Query("record_id"), userID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": sessionView(s)})
}

// GetSession handles GET /api/sessions/:sid
func (h *Handler) GetSession(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sessionView(s)})
}

// DiscardSession handles DELETE /api/sessions/:sid
func (h *Handler) DiscardSession(c *fiber.Ctx) error {
	sid := c.Params("sid")
	if !h.sessions.Discard(sid) {
		return fmt.Errorf("%w: %s", session.ErrSessionNotFound, sid)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// SetStatus handles PUT /api/sessions/:sid/status
func (h *Handler) SetStatus(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayload("Invalid request body")
	}
	if err := s.Host.SetStatus(body.Status); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sessionView(s)})
}

// SetValues handles PUT /api/sessions/:sid/sections/:section
func (h *Handler) SetValues(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var body struct {
		Values map[string]any `json:"values"`
	}
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayload("Invalid request body")
	}
	if err := s.Host.SetValues(c.Params("section"), body.Values); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sessionView(s)})
}

// AddItem handles POST /api/sessions/:sid/sections/:section/items
func (h *Handler) AddItem(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var body struct {
		Values map[string]any `json:"values"`
	}
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayload("Invalid request body")
	}
	id, err := s.Host.AddItem(c.Params("section"), body.Values)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": sessionView(s), "item_id": id})
}

// UpdateItem handles PATCH /api/sessions/:sid/sections/:section/items/:item
func (h *Handler) UpdateItem(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var body struct {
		Values map[string]any `json:"values"`
	}
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayload("Invalid request body")
	}
	if err := s.Host.UpdateItem(c.Params("section"), c.Params("item"), body.Values); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sessionView(s)})
}

// RemoveItem handles DELETE /api/sessions/:sid/sections/:section/items/:item
func (h *Handler) RemoveItem(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	if err := s.Host.RemoveItem(c.Params("section"), c.Params("item")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sessionView(s)})
}

// ReorderItems handles POST /api/sessions/:sid/sections/:section/reorder
func (h *Handler) ReorderItems(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var body struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := c.BodyParser(&body); err != nil || body.From == "" || body.To == "" {
		return InvalidPayload("Body must be {\"from\": itemId, \"to\": itemId}")
	}
	if err := s.Host.ReorderItems(c.Params("section"), body.From, body.To); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sessionView(s)})
}

// Validate handles POST /api/sessions/:sid/validate. It reports what Save
// would reject without saving.
func (h *Handler) Validate(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	report := s.Host.Validate(c.UserContext())
	return c.JSON(fiber.Map{"data": fiber.Map{
		"valid":   report.Valid,
		"details": details(report.Errors),
		"groups":  report.Groups(),
	}})
}

// Save handles POST /api/sessions/:sid/save
func (h *Handler) Save(c *fiber.Ctx) error {
	res, err := h.sessions.Save(c.UserContext(), c.Params("sid"))
	if err != nil {
		return err
	}
	status := fiber.StatusOK
	if res.Created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"data": res})
}

// UploadImage handles POST /api/sessions/:sid/sections/:section/images
func (h *Handler) UploadImage(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return InvalidPayload("Multipart field \"file\" is required")
	}
	file, err := readFile(fh)
	if err != nil {
		return err
	}
	rect, err := formRect(c)
	if err != nil {
		return err
	}
	if err := s.Host.UploadImage(c.UserContext(), c.Params("section"), c.FormValue("field"), c.FormValue("item"), file, rect); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sessionView(s)})
}

// EnqueueImages handles POST /api/sessions/:sid/sections/:section/images/queue
func (h *Handler) EnqueueImages(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	files, err := formFiles(c)
	if err != nil {
		return err
	}
	pending, err := s.Host.EnqueueImages(c.Params("section"), c.FormValue("field"), c.FormValue("item"), files)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sessionView(s), "pending": pending})
}

// CropNext handles POST /api/sessions/:sid/sections/:section/images/queue/crop
func (h *Handler) CropNext(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var body struct {
		Field string        `json:"field"`
		Item  string        `json:"item"`
		Rect  *imaging.Rect `json:"rect"`
	}
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayload("Invalid request body")
	}
	pending, err := s.Host.CropNext(c.UserContext(), c.Params("section"), body.Field, body.Item, body.Rect)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sessionView(s), "pending": pending})
}

// SkipNext handles DELETE /api/sessions/:sid/sections/:section/images/queue/head
func (h *Handler) SkipNext(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	pending, err := s.Host.SkipNext(c.Params("section"), c.Query("field"), c.Query("item"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sessionView(s), "pending": pending})
}

// UploadRaw handles POST /api/sessions/:sid/sections/:section/images/raw
func (h *Handler) UploadRaw(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	files, err := formFiles(c)
	if err != nil {
		return err
	}
	if err := s.Host.UploadRaw(c.UserContext(), c.Params("section"), c.FormValue("field"), c.FormValue("item"), files); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sessionView(s)})
}

// Upload handles POST /api/uploads: multipart files plus a type category.
func (h *Handler) Upload(c *fiber.Ctx) error {
	files, err := formFiles(c)
	if err != nil {
		return err
	}
	res, err := h.uploads.UploadImages(c.UserContext(), files, c.FormValue("type"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": res})
}

// ServeFile handles GET /api/files/*
func (h *Handler) ServeFile(c *fiber.Ctx) error {
	p := c.Params("*")
	ct := storage.ContentType(p)
	if ct == "" {
		return NotFoundError("file", p)
	}
	rc, err := h.uploads.Storage().Open(c.UserContext(), p)
	if err != nil {
		return NotFoundError("file", p)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read file %s: %w", p, err)
	}
	c.Set(fiber.HeaderContentType, ct)
	c.Set(fiber.HeaderXContentTypeOptions, "nosniff")
	c.Set(fiber.HeaderCacheControl, "public, max-age=31536000, immutable")
	return c.Send(data)
}

// --- helpers ---

func (h *Handler) session(c *fiber.Ctx) (*session.Session, error) {
	return h.sessions.Get(c.Params("sid"))
}

type sessionResponse struct {
	ID   string      `json:"id"`
	Kind string      `json:"kind"`
	View editor.View `json:"view"`
}

func sessionView(s *session.Session) sessionResponse {
	return sessionResponse{ID: s.ID, Kind: s.Kind, View: s.Host.View()}
}

func readFile(fh *multipart.FileHeader) (imaging.File, error) {
	f, err := fh.Open()
	if err != nil {
		return imaging.File{}, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return imaging.File{}, fmt.Errorf("read upload %s: %w", fh.Filename, err)
	}
	return imaging.File{Name: fh.Filename, ContentType: fh.Header.Get(fiber.HeaderContentType), Data: data}, nil
}

func formFiles(c *fiber.Ctx) ([]imaging.File, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, InvalidPayload("Expected a multipart form")
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return nil, InvalidPayload("Multipart field \"files\" is required")
	}
	files := make([]imaging.File, 0, len(headers))
	for _, fh := range headers {
		f, err := readFile(fh)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// formRect reads an optional crop rectangle; all four values or none.
func formRect(c *fiber.Ctx) (*imaging.Rect, error) {
	keys := []string{"x", "y", "width", "height"}
	vals := make([]int, len(keys))
	present := 0
	for i, k := range keys {
		raw := c.FormValue(k)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, InvalidPayload(fmt.Sprintf("%s must be an integer", k))
		}
		vals[i] = n
		present++
	}
	switch present {
	case 0:
		return nil, nil
	case len(keys):
		return &imaging.Rect{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}, nil
	default:
		return nil, InvalidPayload("Crop needs x, y, width and height")
	}
}
