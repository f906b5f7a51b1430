package pricing

// UpdateBuffer is a fixed-capacity circular buffer holding the most recent
// published updates. Once full, each add evicts the oldest entry.
type UpdateBuffer[T any] struct {
	items []T
	head  int
	count int
}

func NewUpdateBuffer[T any](capacity int) *UpdateBuffer[T] {
	if capacity <= 0 {
		capacity = DefaultSampleSize
	}
	return &UpdateBuffer[T]{items: make([]T, capacity)}
}

// Add appends an item, evicting the oldest when at capacity.
func (b *UpdateBuffer[T]) Add(item T) {
	b.items[(b.head+b.count)%len(b.items)] = item
	if b.count < len(b.items) {
		b.count++
		return
	}
	b.head = (b.head + 1) % len(b.items)
}

// Len reports the number of buffered items.
func (b *UpdateBuffer[T]) Len() int { return b.count }

// Items returns the buffered items, oldest first.
func (b *UpdateBuffer[T]) Items() []T {
	out := make([]T, 0, b.count)
	for i := 0; i < b.count; i++ {
		out = append(out, b.items[(b.head+i)%len(b.items)])
	}
	return out
}
