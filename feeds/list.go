package feeds

import (
	"sort"

	"snapfeed/models"
)

// List is the consumer side of a feed. Batches are merged without duplicates
// and without reordering what is already held. A List is not safe for
// concurrent use.
type List struct {
	items []models.Item
	keys  map[string]struct{}
}

func NewList() *List {
	return &List{keys: make(map[string]struct{})}
}

// Merge appends the items not already held and returns them
func (l *List) Merge(batch []models.Item) []models.Item {
	if l.keys == nil {
		l.keys = make(map[string]struct{})
	}

	added := []models.Item{}
	for _, item := range batch {
		key := item.Key()
		if _, ok := l.keys[key]; ok {
			continue
		}
		l.keys[key] = struct{}{}
		l.items = append(l.items, item)
		added = append(added, item)
	}
	return added
}

func (l *List) Items() []models.Item {
	return l.items
}

// Sorted returns a copy of the held items, newest first
func (l *List) Sorted() []models.Item {
	sorted := make([]models.Item, len(l.items))
	copy(sorted, l.items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	return sorted
}

func (l *List) Len() int {
	return len(l.items)
}

func (l *List) Reset() {
	l.items = nil
	l.keys = make(map[string]struct{})
}
