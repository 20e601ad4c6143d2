// Package repo defines the read-side list options shared by stores and
// HTTP handlers.
package repo

// ListOpts controls pagination for List operations.
type ListOpts struct {
	Offset int
	Limit  int
}

// Clamp bounds Limit to [1, maxLimit], using def when Limit is unset, and
// floors Offset at zero.
func (o ListOpts) Clamp(def, maxLimit int) ListOpts {
	if o.Limit <= 0 {
		o.Limit = def
	}
	if maxLimit > 0 && o.Limit > maxLimit {
		o.Limit = maxLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// Page returns the window of items selected by opts. A zero Limit means no
// cap.
func Page[T any](items []T, opts ListOpts) []T {
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Offset >= len(items) {
		return []T{}
	}
	items = items[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
