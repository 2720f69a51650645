package jsonv

// Limits bounds a Walk.
type Limits struct {
	MaxDepth int // containers deeper than this are not entered
	MaxItems int // only the first MaxItems elements of an array are visited
}

// DefaultLimits suit page state blobs, which can be very large.
var DefaultLimits = Limits{MaxDepth: 8, MaxItems: 20}

// Walk visits every object member reachable from root, depth-first in
// document order. Each container is entered at most once, so shared or
// cyclic structures terminate.
func Walk(root *Value, lim Limits, visit func(key string, v *Value)) {
	if lim.MaxDepth <= 0 {
		lim.MaxDepth = DefaultLimits.MaxDepth
	}
	if lim.MaxItems <= 0 {
		lim.MaxItems = DefaultLimits.MaxItems
	}
	w := walker{lim: lim, visit: visit, seen: map[*Value]struct{}{}}
	w.walk(root, 0)
}

type walker struct {
	lim   Limits
	visit func(string, *Value)
	seen  map[*Value]struct{}
}

func (w *walker) walk(v *Value, depth int) {
	if v == nil || depth > w.lim.MaxDepth {
		return
	}
	if v.Kind != Array && v.Kind != Object {
		return
	}
	if _, ok := w.seen[v]; ok {
		return
	}
	w.seen[v] = struct{}{}

	if v.Kind == Array {
		items := v.Items
		if len(items) > w.lim.MaxItems {
			items = items[:w.lim.MaxItems]
		}
		for _, item := range items {
			w.walk(item, depth+1)
		}
		return
	}

	for _, m := range v.Members {
		w.visit(m.Key, m.Value)
		w.walk(m.Value, depth+1)
	}
}
