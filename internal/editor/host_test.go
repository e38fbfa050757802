package editor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spa-cms/internal/imaging"
	"spa-cms/internal/section"
	"spa-cms/internal/sections"
)

type memGateway struct {
	mu        sync.Mutex
	records   map[string]map[string]any
	creates   int
	updates   int
	failWith  error
	lastSaved map[string]any
}

func newMemGateway() *memGateway {
	return &memGateway{records: make(map[string]map[string]any)}
}

func (g *memGateway) Create(_ context.Context, kind string, payload map[string]any) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates++
	if g.failWith != nil {
		return "", g.failWith
	}
	id := kind + "-1"
	g.records[id] = payload
	g.lastSaved = payload
	return id, nil
}

func (g *memGateway) Update(_ context.Context, kind, id string, payload map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updates++
	if g.failWith != nil {
		return g.failWith
	}
	g.records[id] = payload
	g.lastSaved = payload
	return nil
}

func (g *memGateway) GetByID(_ context.Context, kind, id string) (map[string]any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (g *memGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.creates + g.updates
}

type stubUploader struct{}

func (stubUploader) UploadImages(_ context.Context, files []imaging.File, category string) ([]imaging.Uploaded, error) {
	out := make([]imaging.Uploaded, len(files))
	for i, f := range files {
		out[i] = imaging.Uploaded{URL: "/files/" + category + "/" + f.Name}
	}
	return out, nil
}

func mustRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := LoadRegistry()
	require.NoError(t, err)
	return reg
}

func newHost(t *testing.T, kind string, gw Gateway) *Host {
	t.Helper()
	def, err := mustRegistry(t).Get(kind)
	require.NoError(t, err)
	h, err := NewHost(def, gw, imaging.NewPipeline(stubUploader{}), nil)
	require.NoError(t, err)
	return h
}

func TestRegistry_LoadsBuiltinEditors(t *testing.T) {
	reg := mustRegistry(t)
	var kinds []string
	for _, d := range reg.List() {
		kinds = append(kinds, d.Kind)
	}
	assert.Equal(t, []string{"home_page", "location", "membership", "popup", "spa_package", "team", "treatment"}, kinds)

	_, err := reg.Get("blog")
	assert.ErrorIs(t, err, ErrUnknownKind)

	assert.Equal(t, "slug", reg.SlugFields()["location"])
	_, ok := reg.SlugFields()["home_page"]
	assert.False(t, ok)
}

func TestDefinition_RejectsDuplicateSectionsAndPayloadKeys(t *testing.T) {
	dup := &Definition{Kind: "x", Sections: []*sections.Spec{
		{Key: "a", Type: sections.KindFields},
		{Key: "a", Type: sections.KindFields},
	}}
	assert.ErrorIs(t, dup.Compile(), ErrDuplicateSection)

	clash := &Definition{Kind: "x", Sections: []*sections.Spec{
		{Key: "a", Type: sections.KindFields, Payload: sections.PayloadInline, Fields: []*sections.Field{{Name: "seo", Type: sections.TypeString}}},
		{Key: "seo", Type: sections.KindFields},
	}}
	assert.Error(t, clash.Compile())

	status := &Definition{Kind: "x", Sections: []*sections.Spec{
		{Key: "a", Type: sections.KindFields, Payload: sections.PayloadInline, Fields: []*sections.Field{{Name: "status", Type: sections.TypeString}}},
	}}
	assert.Error(t, status.Compile())
}

func TestHost_RegisterRejectsDuplicatesAndVerifyFindsMissing(t *testing.T) {
	def := &Definition{Kind: "x", Sections: []*sections.Spec{
		{Key: "a", Type: sections.KindFields},
		{Key: "b", Type: sections.KindFields},
	}}
	require.NoError(t, def.Compile())

	h, err := NewHost(def, newMemGateway(), nil, nil)
	require.NoError(t, err)
	err = h.Register(sections.NewFields(def.Sections[0]))
	assert.ErrorIs(t, err, ErrDuplicateSection)

	partial := &Host{def: def, byKey: map[string]section.Section{}, record: Record{Sections: map[string]any{}}}
	require.NoError(t, partial.Register(sections.NewFields(def.Sections[0])))
	assert.ErrorIs(t, partial.Verify(), ErrMissingSection)
}

// The payload sent to the backend must keep exactly these top-level keys.
// Renaming one silently drops data on the server.
func TestPayloadShapeContract(t *testing.T) {
	want := map[string][]string{
		"home_page":   {"about", "faqs", "hero_image", "seo", "slides", "slogan", "status", "title"},
		"location":    {"address", "booking_url", "cover_image", "email", "gallery", "name", "opening_hours", "phone", "slug", "status"},
		"membership":  {"benefits", "description", "highlighted", "image", "name", "pricing", "slug", "status", "tagline"},
		"team":        {"bio", "credentials", "name", "photo", "role", "slug", "status"},
		"spa_package": {"description", "duration_minutes", "gallery", "image", "includes", "name", "price", "slug", "status"},
		"popup":       {"body", "button", "has_button", "image", "schedule", "status", "title"},
		"treatment":   {"category", "description", "faqs", "image", "name", "price_from", "price_tiers", "price_to", "seo", "slug", "status", "summary"},
	}
	reg := mustRegistry(t)
	require.Len(t, reg.List(), len(want))

	for kind, keys := range want {
		t.Run(kind, func(t *testing.T) {
			def, err := reg.Get(kind)
			require.NoError(t, err)
			gw := newMemGateway()
			h, err := NewHost(def, gw, nil, nil)
			require.NoError(t, err)

			payload, err := h.Payload()
			require.NoError(t, err)
			got := make([]string, 0, len(payload))
			for k := range payload {
				got = append(got, k)
			}
			sort.Strings(got)
			assert.Equal(t, keys, got)

			// what is stored must hydrate back to the same payload
			gw.records["r1"] = payload
			other, err := NewHost(def, gw, nil, nil)
			require.NoError(t, err)
			require.NoError(t, other.Load(context.Background(), "r1"))
			again, err := other.Payload()
			require.NoError(t, err)
			if diff := cmp.Diff(payload, again); diff != "" {
				t.Fatalf("payload changed after reload (-saved +reloaded):\n%s", diff)
			}
		})
	}
}

func TestHost_LiveToDraftSavesWithEmptySlogan(t *testing.T) {
	gw := newMemGateway()
	gw.records["home"] = map[string]any{"status": "live", "title": "Welcome", "slogan": ""}

	h := newHost(t, "home_page", gw)
	require.NoError(t, h.Load(context.Background(), "home"))
	assert.Equal(t, section.StatusLive, h.Record().Status)

	_, err := h.Save(context.Background())
	require.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, 0, gw.calls())

	require.NoError(t, h.SetStatus("draft"))
	res, err := h.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "home", res.ID)
	assert.False(t, res.Created)
	assert.Equal(t, 1, gw.updates)
	assert.Equal(t, 0, gw.creates)
	assert.Equal(t, "draft", gw.lastSaved["status"])
	assert.Equal(t, "", gw.lastSaved["slogan"])
}

func TestHost_InvalidSectionsBlockSaveAndGroupErrors(t *testing.T) {
	gw := newMemGateway()
	h := newHost(t, "home_page", gw)

	_, err := h.AddItem("slider", map[string]any{"title": "Slide", "link": "not a link"})
	require.NoError(t, err)

	_, err = h.Save(context.Background())
	var se *SaveError
	require.ErrorAs(t, err, &se)
	require.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, 0, gw.calls())

	require.Len(t, se.Errors, 3)
	groups := se.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, "general", groups[0].Section)
	assert.Len(t, groups[0].Errors, 1)
	assert.Equal(t, "slider", groups[1].Section)
	assert.Len(t, groups[1].Errors, 2)
	assert.Equal(t, "slides.0.image", groups[1].Errors[0].Field)
	assert.Equal(t, "slides.0.link", groups[1].Errors[1].Field)
}

func TestHost_CreateThenClosed(t *testing.T) {
	gw := newMemGateway()
	h := newHost(t, "popup", gw)
	require.NoError(t, h.SetValues("content", map[string]any{"title": "Summer offer", "has_button": true, "button_label": "Book", "button_link": "/book"}))

	res, err := h.Save(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "popup-1", res.ID)
	assert.Equal(t, map[string]any{"label": "Book", "link": "/book"}, gw.lastSaved["button"])

	_, err = h.Save(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, h.SetValues("content", map[string]any{"title": "x"}), ErrClosed)
}

func TestHost_WhenRuleFollowsOtherField(t *testing.T) {
	h := newHost(t, "popup", newMemGateway())
	require.NoError(t, h.SetValues("content", map[string]any{"title": "t", "has_button": true}))

	report := h.Validate(context.Background())
	require.Len(t, report.Errors, 2)

	require.NoError(t, h.SetValues("content", map[string]any{"has_button": false}))
	assert.True(t, h.Validate(context.Background()).Valid)
}

func TestHost_BackendFieldErrorsAreNormalized(t *testing.T) {
	gw := newMemGateway()
	gw.failWith = FieldErrors{
		"slug":                {"slug already exists"},
		"address.city":        {"unknown city"},
		"opening_hours.0.day": {"duplicate day"},
		"legacy_code":         {"unsupported"},
	}
	h := newHost(t, "location", gw)
	require.NoError(t, h.SetValues("general", map[string]any{"name": "Harbour", "slug": "harbour"}))

	_, err := h.Save(context.Background())
	var se *SaveError
	require.ErrorAs(t, err, &se)
	require.ErrorIs(t, err, ErrRejected)

	want := []section.ValidationError{
		{Section: "general", Field: "slug", Message: "slug already exists"},
		{Section: "address", Field: "address.city", Message: "unknown city"},
		{Section: "hours", Field: "opening_hours.0.day", Message: "duplicate day"},
		{Section: "", Field: "legacy_code", Message: "unsupported"},
	}
	if diff := cmp.Diff(want, se.Errors); diff != "" {
		t.Fatalf("normalized errors mismatch (-want +got):\n%s", diff)
	}

	// the host stays open for correction
	gw.failWith = nil
	_, err = h.Save(context.Background())
	require.NoError(t, err)
}

func TestHost_GenericBackendErrorKeepsHostOpen(t *testing.T) {
	gw := newMemGateway()
	gw.failWith = errors.New("connection reset")
	h := newHost(t, "team", gw)
	require.NoError(t, h.SetValues("profile", map[string]any{"name": "Ana", "slug": "ana"}))

	_, err := h.Save(context.Background())
	require.ErrorIs(t, err, ErrSaveFailed)
	var se *SaveError
	require.ErrorAs(t, err, &se)
	assert.Empty(t, se.Errors)

	assert.NoError(t, h.SetValues("profile", map[string]any{"role": "Therapist"}))
}

func TestHost_LoadDoesNotNotifyAndRecordTracksEdits(t *testing.T) {
	gw := newMemGateway()
	gw.records["t1"] = map[string]any{
		"status":      "draft",
		"name":        "Hot stone",
		"slug":        "hot-stone",
		"price_tiers": []any{map[string]any{"label": "60 min", "price": 80.0, "position": 1.0}},
	}
	h := newHost(t, "treatment", gw)
	require.NoError(t, h.Load(context.Background(), "t1"))

	rec := h.Record()
	assert.Equal(t, "t1", rec.ID)
	general := rec.Sections["general"].(map[string]any)
	assert.Equal(t, "Hot stone", general["name"])

	id, err := h.AddItem("tiers", map[string]any{"label": "90 min", "price": 110})
	require.NoError(t, err)
	tiers := h.Record().Sections["tiers"].([]map[string]any)
	require.Len(t, tiers, 2)
	assert.Equal(t, 2, tiers[1]["position"])

	first := h.View().Sections[1].State.(map[string]any)["items"].([]sections.ItemView)[0].ID
	require.NoError(t, h.ReorderItems("tiers", id, first))
	tiers = h.Record().Sections["tiers"].([]map[string]any)
	assert.Equal(t, "90 min", tiers[0]["label"])
	assert.Equal(t, 1, tiers[0]["position"])

	assert.ErrorIs(t, h.SetValues("tiers", nil), ErrUnsupported)
	assert.ErrorIs(t, h.SetValues("nope", nil), ErrUnknownSection)
	_, err = h.AddItem("general", nil)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestHost_LoadMissingRecord(t *testing.T) {
	h := newHost(t, "team", newMemGateway())
	assert.ErrorIs(t, h.Load(context.Background(), "missing"), ErrNotFound)
}

func TestHost_InactiveSectionNeverBlocksSave(t *testing.T) {
	h := newHost(t, "treatment", newMemGateway())
	require.NoError(t, h.SetValues("general", map[string]any{"name": "Facial", "slug": "facial"}))
	require.NoError(t, h.SetValues("seo", map[string]any{"meta_title": "This meta title is far too long to ever fit into a search result snippet"}))

	assert.True(t, h.Validate(context.Background()).Valid)

	view := h.View()
	for _, s := range view.Sections {
		if s.Key == "seo" {
			assert.False(t, s.Active)
		}
	}

	require.NoError(t, h.SetStatus("live"))
	assert.False(t, h.Validate(context.Background()).Valid)
}

func pngData(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{G: 120, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestHost_ImageGestures(t *testing.T) {
	h := newHost(t, "team", newMemGateway())

	err := h.UploadImage(context.Background(), "profile", "photo", "", imaging.File{Name: "ana.jpg", Data: []byte("broken")}, nil)
	var ue *imaging.UploadError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "", h.Record().Sections["profile"].(map[string]any)["photo"])

	require.NoError(t, h.UploadImage(context.Background(), "profile", "photo", "", imaging.File{Name: "ana.jpg", Data: pngData(t, 50, 80)}, nil))
	assert.Equal(t, "/files/team/ana.png", h.Record().Sections["profile"].(map[string]any)["photo"])

	// certificates have no crop spec
	_, err = h.EnqueueImages("credentials", "certificates", "", []imaging.File{{Name: "a.pdf"}})
	assert.ErrorIs(t, err, sections.ErrCropRequired)
	require.NoError(t, h.UploadRaw(context.Background(), "credentials", "certificates", "", []imaging.File{{Name: "a.pdf", Data: []byte("%PDF")}, {Name: "b.pdf", Data: []byte("%PDF")}}))
	assert.Equal(t, []string{"/files/certificates/a.pdf", "/files/certificates/b.pdf"},
		h.Record().Sections["credentials"].(map[string]any)["certificates"])
}

func TestHost_QueuedImages(t *testing.T) {
	h := newHost(t, "spa_package", newMemGateway())

	err := h.UploadRaw(context.Background(), "gallery", "images", "", []imaging.File{{Name: "x.png"}})
	assert.ErrorIs(t, err, sections.ErrCropNotAllowed)

	pending, err := h.EnqueueImages("gallery", "images", "", []imaging.File{
		{Name: "one.png", Data: pngData(t, 40, 40)},
		{Name: "two.png", Data: []byte("not an image")},
		{Name: "three.png", Data: pngData(t, 30, 60)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one.png", "two.png", "three.png"}, pending)

	pending, err = h.CropNext(context.Background(), "gallery", "images", "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"two.png", "three.png"}, pending)

	pending, err = h.CropNext(context.Background(), "gallery", "images", "", nil)
	require.Error(t, err)
	assert.Equal(t, []string{"two.png", "three.png"}, pending)

	pending, err = h.SkipNext("gallery", "images", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"three.png"}, pending)

	rect := &imaging.Rect{X: 0, Y: 10, Width: 30, Height: 20}
	pending, err = h.CropNext(context.Background(), "gallery", "images", "", rect)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.Equal(t, []string{"/files/packages/one.png", "/files/packages/three.png"},
		h.Record().Sections["gallery"].(map[string]any)["images"])

	_, err = h.SkipNext("gallery", "images", "")
	assert.ErrorIs(t, err, imaging.ErrQueueEmpty)
}
