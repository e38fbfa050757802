package records

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spa-cms/internal/config"
	"spa-cms/internal/editor"
	"spa-cms/internal/section"
	"spa-cms/internal/store"
)

func newTestGateway(t *testing.T) (*Gateway, *editor.Registry) {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(ctx, config.DatabaseConfig{Driver: "sqlite", Name: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Bootstrap(ctx, config.AdminConfig{}, nil))

	reg, err := editor.LoadRegistry()
	require.NoError(t, err)
	return NewGateway(s, reg.SlugFields(), nil), reg
}

func TestCreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	gw, _ := newTestGateway(t)

	payload := map[string]any{
		"status": "draft",
		"name":   "City Centre",
		"slug":   "city-centre",
		"address": map[string]any{
			"city": "Lisbon",
			"geo":  map[string]any{"lat": 38.7, "lng": -9.1},
		},
		"opening_hours": []map[string]any{{"day": "monday", "position": 1}},
	}
	id, err := gw.Create(ctx, "location", payload)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := gw.GetByID(ctx, "location", id)
	require.NoError(t, err)
	want := map[string]any{
		"status": "draft",
		"name":   "City Centre",
		"slug":   "city-centre",
		"address": map[string]any{
			"city": "Lisbon",
			"geo":  map[string]any{"lat": 38.7, "lng": -9.1},
		},
		"opening_hours": []any{map[string]any{"day": "monday", "position": float64(1)}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}

	payload["status"] = "live"
	require.NoError(t, gw.Update(ctx, "location", id, payload))
	got, err = gw.GetByID(ctx, "location", id)
	require.NoError(t, err)
	assert.Equal(t, "live", got["status"])
}

func TestGetByIDWrongKindOrMissing(t *testing.T) {
	ctx := context.Background()
	gw, _ := newTestGateway(t)

	id, err := gw.Create(ctx, "popup", map[string]any{"status": "draft"})
	require.NoError(t, err)

	_, err = gw.GetByID(ctx, "treatment", id)
	assert.ErrorIs(t, err, editor.ErrNotFound)
	_, err = gw.GetByID(ctx, "popup", "not-a-uuid")
	assert.ErrorIs(t, err, editor.ErrNotFound)

	err = gw.Update(ctx, "popup", "6f1c1f3e-8f61-4a59-9a3e-4f0b0bb3c6a1", map[string]any{"status": "draft"})
	assert.ErrorIs(t, err, editor.ErrNotFound)
}

func TestSlugCollisionIsFieldError(t *testing.T) {
	ctx := context.Background()
	gw, _ := newTestGateway(t)

	_, err := gw.Create(ctx, "location", map[string]any{"status": "draft", "slug": "harbour"})
	require.NoError(t, err)

	_, err = gw.Create(ctx, "location", map[string]any{"status": "draft", "slug": "harbour"})
	var fe editor.FieldErrors
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, editor.FieldErrors{"slug": {slugTaken}}, fe)

	// Same slug under another kind, and kinds without a slug, never collide.
	_, err = gw.Create(ctx, "treatment", map[string]any{"status": "draft", "slug": "harbour"})
	require.NoError(t, err)
	for range 2 {
		_, err = gw.Create(ctx, "home_page", map[string]any{"status": "draft"})
		require.NoError(t, err)
	}
}

func TestValueTaken(t *testing.T) {
	ctx := context.Background()
	gw, _ := newTestGateway(t)

	id, err := gw.Create(ctx, "location", map[string]any{
		"status":  "draft",
		"slug":    "harbour",
		"address": map[string]any{"city": "Porto"},
	})
	require.NoError(t, err)

	taken, err := gw.ValueTaken(ctx, "location", "slug", "harbour", "")
	require.NoError(t, err)
	assert.True(t, taken)

	taken, err = gw.ValueTaken(ctx, "location", "slug", "harbour", id)
	require.NoError(t, err)
	assert.False(t, taken, "a record never collides with itself")

	taken, err = gw.ValueTaken(ctx, "location", "address.city", "Porto", "")
	require.NoError(t, err)
	assert.True(t, taken)

	taken, err = gw.ValueTaken(ctx, "treatment", "slug", "harbour", "")
	require.NoError(t, err)
	assert.False(t, taken)

	_, err = gw.ValueTaken(ctx, "location", "slug') OR 1=1 --", "x", "")
	assert.Error(t, err)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	gw, _ := newTestGateway(t)

	for _, slug := range []string{"a", "b", "c"} {
		_, err := gw.Create(ctx, "treatment", map[string]any{"status": "draft", "slug": slug})
		require.NoError(t, err)
	}
	_, err := gw.Create(ctx, "location", map[string]any{"status": "live", "slug": "z"})
	require.NoError(t, err)

	page, total, err := gw.List(ctx, "treatment", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 2)

	page, _, err = gw.List(ctx, "treatment", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "treatment", page[0].Kind)
	assert.False(t, page[0].UpdatedAt.IsZero())
}

func TestHostRoundTripThroughStore(t *testing.T) {
	ctx := context.Background()
	gw, reg := newTestGateway(t)
	def, err := reg.Get("location")
	require.NoError(t, err)

	h, err := editor.NewHost(def, gw, nil, nil)
	require.NoError(t, err)
	require.NoError(t, h.SetValues("general", map[string]any{"name": "Harbour", "slug": "harbour"}))
	require.NoError(t, h.SetValues("address", map[string]any{"city": "Porto", "latitude": 41.1}))
	_, err = h.AddItem("hours", map[string]any{"day": "monday", "opens": "09:00", "closes": "18:00"})
	require.NoError(t, err)
	_, err = h.AddItem("hours", map[string]any{"day": "sunday", "closed": true})
	require.NoError(t, err)
	want, err := h.Payload()
	require.NoError(t, err)

	res, err := h.Save(ctx)
	require.NoError(t, err)
	require.True(t, res.Created)

	edit, err := editor.NewHost(def, gw, nil, nil)
	require.NoError(t, err)
	require.NoError(t, edit.Load(ctx, res.ID))
	got, err := edit.Payload()
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("payload changed across save and load (-want +got):\n%s", diff)
	}

	// A second location claiming the slug is stopped by the unique rule
	// before the store is touched.
	dup, err := editor.NewHost(def, gw, nil, nil)
	require.NoError(t, err)
	require.NoError(t, dup.SetValues("general", map[string]any{"name": "Other", "slug": "harbour"}))
	_, err = dup.Save(ctx)
	var saveErr *editor.SaveError
	require.ErrorAs(t, err, &saveErr)
	assert.ErrorIs(t, err, editor.ErrInvalid)
	assert.Equal(t, []section.ValidationError{{Section: "general", Field: "slug", Message: `slug "harbour" is already in use`}}, saveErr.Errors)
}
