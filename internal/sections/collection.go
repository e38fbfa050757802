package sections

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"spa-cms/internal/collection"
	"spa-cms/internal/imaging"
	"spa-cms/internal/section"
)

// Item is one row of a collection section.
type Item struct {
	Values   map[string]any
	Position int
}

// ItemView is the editor-facing shape of an item, carrying its identity.
type ItemView struct {
	ID       string         `json:"id"`
	Position int            `json:"position"`
	Values   map[string]any `json:"values"`
}

// CollectionSection is an ordered, reorderable list of items such as slider
// slides, FAQs or pricing tiers.
type CollectionSection struct {
	section.Base
	spec   *Spec
	items  *collection.Collection[Item]
	queues map[string]*imaging.Queue
}

func NewCollection(spec *Spec) *CollectionSection {
	cs := spec.Collection
	opts := collection.Options[Item]{
		Base:        cs.Base,
		SetPosition: func(item *Item, pos int) { item.Position = pos },
	}
	if cs.PartitionField != "" {
		pf := cs.PartitionField
		opts.PartitionOf = func(item *Item) string {
			return partitionKey(item.Values[pf])
		}
	}
	return &CollectionSection{
		Base:   section.NewBase(spec.Key),
		spec:   spec,
		items:  collection.New(opts),
		queues: make(map[string]*imaging.Queue),
	}
}

func partitionKey(v any) string {
	switch k := v.(type) {
	case nil:
		return ""
	case string:
		return k
	case float64:
		return strconv.FormatFloat(k, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func (s *CollectionSection) Spec() *Spec { return s.spec }

func (s *CollectionSection) ActiveFor(env section.Env) bool {
	return s.spec.activeFor(env)
}

func (s *CollectionSection) Validate(ctx context.Context, env section.Env) section.Result {
	key := s.spec.PayloadKey()
	var errs []section.ValidationError

	entries := s.items.Entries()
	list := make([]any, len(entries))
	for i, e := range entries {
		list[i] = e.Value.Values
	}
	errs = append(errs, s.spec.Rules.Evaluate(ctx, env, s.Key(), "", map[string]any{key: list})...)

	for i, e := range entries {
		prefix := key + "." + strconv.Itoa(i) + "."
		errs = append(errs, s.spec.Collection.ItemRules.Evaluate(ctx, env, s.Key(), prefix, e.Value.Values)...)
	}
	return section.NewResult(errs)
}

// Data returns the items in display order, each carrying its position.
func (s *CollectionSection) Data() any {
	entries := s.items.Entries()
	out := make([]map[string]any, len(entries))
	for i, e := range entries {
		obj := writeFields(s.spec.Fields, e.Value.Values)
		obj[s.spec.Collection.PositionKey] = e.Value.Position
		out[i] = obj
	}
	return out
}

func (s *CollectionSection) Hydrate(snapshot any) error {
	var rows []map[string]any
	switch v := snapshot.(type) {
	case nil:
	case []map[string]any:
		rows = v
	case []any:
		rows = make([]map[string]any, 0, len(v))
		for _, r := range v {
			obj, ok := r.(map[string]any)
			if !ok {
				return fmt.Errorf("hydrate %s: %w: item is %T", s.Key(), ErrInvalidValue, r)
			}
			rows = append(rows, obj)
		}
	default:
		return fmt.Errorf("hydrate %s: %w: expected a list, got %T", s.Key(), ErrInvalidValue, snapshot)
	}

	posKey := s.spec.Collection.PositionKey
	items := make([]Item, len(rows))
	for i, row := range rows {
		pos := i + s.spec.Collection.Base
		if n, ok := section.ToFloat64(row[posKey]); ok {
			pos = int(n)
		}
		items[i] = Item{Values: readFields(s.spec.Fields, row), Position: pos}
	}
	s.items.Load(items, func(item *Item) int { return item.Position })
	for _, q := range s.queues {
		q.Clear()
	}
	s.queues = make(map[string]*imaging.Queue)
	return nil
}

func (s *CollectionSection) itemValues(values map[string]any, base map[string]any) (map[string]any, error) {
	next := copyValues(base)
	for name, raw := range values {
		f, ok := s.spec.Field(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, s.Key(), name)
		}
		v, err := inputValue(f, raw)
		if err != nil {
			return nil, err
		}
		next[name] = v
	}
	return next, nil
}

// AddItem appends an item at the end of its partition and returns its id.
func (s *CollectionSection) AddItem(values map[string]any) (string, error) {
	next, err := s.itemValues(values, defaults(s.spec.Fields))
	if err != nil {
		return "", err
	}
	id := s.items.Add(Item{Values: next})
	s.Emit(s.Data())
	return id, nil
}

func (s *CollectionSection) UpdateItem(id string, values map[string]any) error {
	cur, ok := s.items.Get(id)
	if !ok {
		return fmt.Errorf("%s: %w %s", s.Key(), collection.ErrUnknownItem, id)
	}
	next, err := s.itemValues(values, cur.Values)
	if err != nil {
		return err
	}
	s.items.Update(id, func(item *Item) { item.Values = next })
	s.Emit(s.Data())
	return nil
}

func (s *CollectionSection) RemoveItem(id string) error {
	if !s.items.Remove(id) {
		return fmt.Errorf("%s: %w %s", s.Key(), collection.ErrUnknownItem, id)
	}
	for k := range s.queues {
		if strings.HasPrefix(k, id+"/") {
			delete(s.queues, k)
		}
	}
	s.Emit(s.Data())
	return nil
}

// ReorderItems moves from to the slot of to. Self-drops and single-item
// partitions do not notify.
func (s *CollectionSection) ReorderItems(fromID, toID string) error {
	before := s.items.Entries()
	if err := s.items.Reorder(fromID, toID); err != nil {
		return fmt.Errorf("%s: %w", s.Key(), err)
	}
	if sameOrder(before, s.items.Entries()) {
		return nil
	}
	s.Emit(s.Data())
	return nil
}

func sameOrder(a, b []collection.Entry[Item]) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

// Items returns the current rows with their identities.
func (s *CollectionSection) Items() []ItemView {
	entries := s.items.Entries()
	out := make([]ItemView, len(entries))
	for i, e := range entries {
		out[i] = ItemView{ID: e.ID, Position: e.Value.Position, Values: copyValues(e.Value.Values)}
	}
	return out
}

func (s *CollectionSection) View() any {
	return map[string]any{"items": s.Items()}
}

func (s *CollectionSection) slotFor(f *Field, itemID string) (*valueSlot, error) {
	if !s.items.Has(itemID) {
		return nil, fmt.Errorf("%s: %w %s", s.Key(), collection.ErrUnknownItem, itemID)
	}
	return &valueSlot{
		field: f,
		get: func() any {
			item, _ := s.items.Get(itemID)
			return item.Values[f.Name]
		},
		set: func(v any) {
			ok := s.items.Update(itemID, func(item *Item) {
				next := copyValues(item.Values)
				next[f.Name] = v
				item.Values = next
			})
			if ok {
				s.Emit(s.Data())
			}
		},
	}, nil
}

func (s *CollectionSection) ImageSlot(field, itemID string) (imaging.Slot, error) {
	f, err := imageField(s.spec, field, TypeImage)
	if err != nil {
		return nil, err
	}
	return s.slotFor(f, itemID)
}

func (s *CollectionSection) ImageList(field, itemID string) (imaging.ListSlot, *imaging.Queue, error) {
	f, err := imageField(s.spec, field, TypeImages)
	if err != nil {
		return nil, nil, err
	}
	slot, err := s.slotFor(f, itemID)
	if err != nil {
		return nil, nil, err
	}
	key := itemID + "/" + f.Name
	q, ok := s.queues[key]
	if !ok {
		q = &imaging.Queue{}
		s.queues[key] = q
	}
	return slot, q, nil
}
