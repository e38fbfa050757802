package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"spa-cms/internal/editor"
	"spa-cms/internal/logger"
	"spa-cms/internal/section"
	"spa-cms/internal/store"
)

const slugTaken = "slug already in use"

// Gateway persists editor records in cms_records. The full aggregate payload
// is stored as JSON; status and slug are copied into their own columns.
type Gateway struct {
	store *store.Store
	slugs map[string]string
	log   *logger.Logger
}

// NewGateway creates a Gateway. slugFields maps each kind to the payload path
// of its slug; kinds without an entry store a NULL slug.
func NewGateway(s *store.Store, slugFields map[string]string, log *logger.Logger) *Gateway {
	if log == nil {
		log = logger.Nop()
	}
	return &Gateway{store: s, slugs: slugFields, log: log.With("component", "records")}
}

// Summary is one row of a record listing.
type Summary struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Slug      string    `json:"slug,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (g *Gateway) Create(ctx context.Context, kind string, payload map[string]any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", kind, err)
	}
	id := uuid.New().String()

	pb := g.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf("INSERT INTO cms_records (id, kind, status, slug, payload) VALUES (%s, %s, %s, %s, %s)",
		pb.Add(id), pb.Add(kind), pb.Add(statusOf(payload)), pb.Add(g.slugOf(kind, payload)), pb.Add(string(raw)))
	if _, err := store.Exec(ctx, g.store.DB, query, pb.Params()...); err != nil {
		return "", g.writeError(kind, payload, err)
	}
	g.log.Info("record created", "kind", kind, "id", id)
	return id, nil
}

func (g *Gateway) Update(ctx context.Context, kind, id string, payload map[string]any) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%s/%s: %w", kind, id, editor.ErrNotFound)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}

	pb := g.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf("UPDATE cms_records SET status = %s, slug = %s, payload = %s, updated_at = %s WHERE id = %s AND kind = %s",
		pb.Add(statusOf(payload)), pb.Add(g.slugOf(kind, payload)), pb.Add(string(raw)),
		g.store.Dialect.NowExpr(), pb.Add(id), pb.Add(kind))
	n, err := store.Exec(ctx, g.store.DB, query, pb.Params()...)
	if err != nil {
		return g.writeError(kind, payload, err)
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", kind, id, editor.ErrNotFound)
	}
	g.log.Info("record updated", "kind", kind, "id", id)
	return nil
}

func (g *Gateway) GetByID(ctx context.Context, kind, id string) (map[string]any, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%s/%s: %w", kind, id, editor.ErrNotFound)
	}

	pb := g.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf("SELECT status, payload FROM cms_records WHERE id = %s AND kind = %s", pb.Add(id), pb.Add(kind))
	var (
		status string
		raw    []byte
	)
	err := g.store.DB.QueryRowContext(ctx, query, pb.Params()...).Scan(&status, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", kind, id, editor.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", kind, id, err)
	}

	payload := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("decode %s/%s payload: %w", kind, id, err)
		}
	}
	payload["status"] = status
	return payload, nil
}

// List returns one page of records of kind, most recently updated first,
// with the total count.
func (g *Gateway) List(ctx context.Context, kind string, page, perPage int) ([]Summary, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 25
	}

	pb := g.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf("SELECT id, kind, status, slug, updated_at FROM cms_records WHERE kind = %s ORDER BY updated_at DESC, id LIMIT %s OFFSET %s",
		pb.Add(kind), pb.Add(perPage), pb.Add((page-1)*perPage))
	rows, err := store.QueryRows(ctx, g.store.DB, query, pb.Params()...)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", kind, err)
	}

	cb := g.store.Dialect.NewParamBuilder()
	countRow, err := store.QueryRow(ctx, g.store.DB, fmt.Sprintf("SELECT COUNT(*) AS count FROM cms_records WHERE kind = %s", cb.Add(kind)), cb.Params()...)
	if err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", kind, err)
	}

	out := make([]Summary, 0, len(rows))
	for _, row := range rows {
		s := Summary{
			ID:     fmt.Sprint(row["id"]),
			Kind:   fmt.Sprint(row["kind"]),
			Status: fmt.Sprint(row["status"]),
		}
		if slug, ok := row["slug"].(string); ok {
			s.Slug = slug
		}
		if t, ok := row["updated_at"].(time.Time); ok {
			s.UpdatedAt = t
		}
		out = append(out, s)
	}
	return out, toInt(countRow["count"]), nil
}

// ValueTaken reports whether another record of kind already stores value at
// the payload path field.
func (g *Gateway) ValueTaken(ctx context.Context, kind, field, value, excludeID string) (bool, error) {
	expr, err := g.store.Dialect.JSONTextExpr("payload", strings.Split(field, "."))
	if err != nil {
		return false, err
	}
	pb := g.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf("SELECT id FROM cms_records WHERE kind = %s AND %s = %s", pb.Add(kind), expr, pb.Add(value))
	if excludeID != "" {
		query += fmt.Sprintf(" AND id <> %s", pb.Add(excludeID))
	}
	query += " LIMIT 1"

	_, err = store.QueryRow(ctx, g.store.DB, query, pb.Params()...)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup %s.%s: %w", kind, field, err)
	}
	return true, nil
}

// writeError turns a slug collision into a field rejection the editor can
// show on the slug field.
func (g *Gateway) writeError(kind string, payload map[string]any, err error) error {
	err = store.MapError(g.store.Dialect, err)
	if errors.Is(err, store.ErrUniqueViolation) {
		if field := g.slugs[kind]; field != "" {
			g.log.Info("slug collision", "kind", kind, "slug", g.slugOf(kind, payload))
			return editor.FieldErrors{field: {slugTaken}}
		}
	}
	return fmt.Errorf("write %s: %w", kind, err)
}

func (g *Gateway) slugOf(kind string, payload map[string]any) any {
	field := g.slugs[kind]
	if field == "" {
		return nil
	}
	var cur any = payload
	for _, part := range strings.Split(field, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[part]
	}
	s, ok := cur.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func statusOf(payload map[string]any) string {
	if s, ok := payload["status"].(string); ok && s != "" {
		return s
	}
	return string(section.StatusDraft)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int32:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

var (
	_ editor.Gateway = (*Gateway)(nil)
	_ section.Lookup = (*Gateway)(nil)
)
