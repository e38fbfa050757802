package collection

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

var (
	ErrUnknownItem       = errors.New("unknown item")
	ErrPartitionMismatch = errors.New("items belong to different partitions")
)

// Options configures how a Collection writes positions back into its items.
type Options[T any] struct {
	// Base is the position of the first item: 0 or 1.
	Base int
	// SetPosition writes the recomputed position into the item.
	SetPosition func(item *T, position int)
	// PartitionOf returns the partition key of an item. Nil means the
	// collection is a single partition.
	PartitionOf func(item *T) string
	// NewID generates item identities. Defaults to random UUIDs.
	NewID func() string
}

// Entry pairs an item with its stable identity.
type Entry[T any] struct {
	ID    string
	Value T
}

// Collection is an ordered list of items with stable identities. Items live
// in an arena keyed by id; display order is a separate id list. Positions are
// recomputed synchronously by every mutation so that position i always equals
// index i (plus Base) within the item's partition.
type Collection[T any] struct {
	opts  Options[T]
	items map[string]*T
	order []string
}

func New[T any](opts Options[T]) *Collection[T] {
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	return &Collection[T]{
		opts:  opts,
		items: make(map[string]*T),
	}
}

// Len returns the number of items across all partitions.
func (c *Collection[T]) Len() int {
	return len(c.order)
}

// Add appends an item to the end of its partition and returns its identity.
func (c *Collection[T]) Add(v T) string {
	id := c.opts.NewID()
	item := v
	c.items[id] = &item
	c.order = append(c.order, id)
	c.recompute(c.partitionOf(&item))
	return id
}

// Remove drops an item and closes the gap it leaves in its partition.
func (c *Collection[T]) Remove(id string) bool {
	item, ok := c.items[id]
	if !ok {
		return false
	}
	key := c.partitionOf(item)
	delete(c.items, id)
	for i, cur := range c.order {
		if cur == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.recompute(key)
	return true
}

// Update applies fn to the item. The item's position is re-asserted afterwards,
// so fn cannot desynchronise it. Changing the partition key moves the item to
// the end of its new partition.
func (c *Collection[T]) Update(id string, fn func(item *T)) bool {
	item, ok := c.items[id]
	if !ok {
		return false
	}
	before := c.partitionOf(item)
	fn(item)
	after := c.partitionOf(item)
	if before != after {
		c.moveToEnd(id)
		c.recompute(before)
	}
	c.recompute(after)
	return true
}

// Reorder moves the item identified by fromID into the slot currently held by
// toID, shifting the siblings in between. Only the partition shared by both
// items is affected; it is spliced back into the same slots of the full list.
func (c *Collection[T]) Reorder(fromID, toID string) error {
	from, ok := c.items[fromID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownItem, fromID)
	}
	to, ok := c.items[toID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownItem, toID)
	}
	if fromID == toID {
		return nil
	}

	key := c.partitionOf(from)
	if c.partitionOf(to) != key {
		return fmt.Errorf("%w: %q and %q", ErrPartitionMismatch, key, c.partitionOf(to))
	}

	slots, ids := c.slots(key)
	if len(ids) < 2 {
		return nil
	}

	oldIndex := indexOf(ids, fromID)
	newIndex := indexOf(ids, toID)
	moved := arrayMove(ids, oldIndex, newIndex)
	for i, slot := range slots {
		c.order[slot] = moved[i]
	}

	c.recompute(key)
	return nil
}

// Load replaces the contents with values ordered by their current position
// (stable for ties) and assigns fresh identities. Positions are recomputed,
// so gaps or duplicates in the input are repaired.
func (c *Collection[T]) Load(values []T, positionOf func(item *T) int) {
	c.items = make(map[string]*T, len(values))
	c.order = make([]string, 0, len(values))

	sorted := make([]T, len(values))
	copy(sorted, values)
	if positionOf != nil {
		sort.SliceStable(sorted, func(i, j int) bool {
			return positionOf(&sorted[i]) < positionOf(&sorted[j])
		})
	}

	keys := make(map[string]struct{})
	for i := range sorted {
		id := c.opts.NewID()
		item := sorted[i]
		c.items[id] = &item
		c.order = append(c.order, id)
		keys[c.partitionOf(&item)] = struct{}{}
	}
	for key := range keys {
		c.recompute(key)
	}
}

// Get returns a copy of the item.
func (c *Collection[T]) Get(id string) (T, bool) {
	item, ok := c.items[id]
	if !ok {
		var zero T
		return zero, false
	}
	return *item, true
}

// Has reports whether id names an item.
func (c *Collection[T]) Has(id string) bool {
	_, ok := c.items[id]
	return ok
}

// Entries returns all items in display order.
func (c *Collection[T]) Entries() []Entry[T] {
	out := make([]Entry[T], 0, len(c.order))
	for _, id := range c.order {
		out = append(out, Entry[T]{ID: id, Value: *c.items[id]})
	}
	return out
}

// Items returns all item values in display order.
func (c *Collection[T]) Items() []T {
	out := make([]T, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.items[id])
	}
	return out
}

// Partition returns the items of one partition in display order.
func (c *Collection[T]) Partition(key string) []Entry[T] {
	var out []Entry[T]
	for _, id := range c.order {
		item := c.items[id]
		if c.partitionOf(item) == key {
			out = append(out, Entry[T]{ID: id, Value: *item})
		}
	}
	return out
}

// PositionOf returns the position the collection assigned to id.
func (c *Collection[T]) PositionOf(id string) (int, bool) {
	item, ok := c.items[id]
	if !ok {
		return 0, false
	}
	_, ids := c.slots(c.partitionOf(item))
	return indexOf(ids, id) + c.opts.Base, true
}

func (c *Collection[T]) partitionOf(item *T) string {
	if c.opts.PartitionOf == nil {
		return ""
	}
	return c.opts.PartitionOf(item)
}

// slots returns the indexes in c.order occupied by a partition, and the ids
// found there, in order.
func (c *Collection[T]) slots(key string) ([]int, []string) {
	var slots []int
	var ids []string
	for i, id := range c.order {
		if c.partitionOf(c.items[id]) == key {
			slots = append(slots, i)
			ids = append(ids, id)
		}
	}
	return slots, ids
}

func (c *Collection[T]) recompute(key string) {
	if c.opts.SetPosition == nil {
		return
	}
	_, ids := c.slots(key)
	for i, id := range ids {
		c.opts.SetPosition(c.items[id], i+c.opts.Base)
	}
}

func (c *Collection[T]) moveToEnd(id string) {
	i := indexOf(c.order, id)
	if i < 0 {
		return
	}
	c.order = append(c.order[:i], c.order[i+1:]...)
	c.order = append(c.order, id)
}

func indexOf(ids []string, id string) int {
	for i, cur := range ids {
		if cur == id {
			return i
		}
	}
	return -1
}

// arrayMove returns a copy of ids with the element at from moved to to.
func arrayMove(ids []string, from, to int) []string {
	out := make([]string, 0, len(ids))
	moved := ids[from]
	for i, id := range ids {
		if i == from {
			continue
		}
		out = append(out, id)
	}
	out = append(out[:to], append([]string{moved}, out[to:]...)...)
	return out
}
