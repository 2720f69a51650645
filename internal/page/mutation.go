package page

// MutationRecord describes one change to the tree.
type MutationRecord struct {
	Target  *Element
	Added   []*Element
	Removed []*Element
}

type observer struct {
	fn      func([]MutationRecord)
	removed bool
}

// Observe registers fn for tree mutations. Records are batched and
// delivered on the scheduler after the mutating call returns, so the
// mutator never re-enters fn.
func (d *Document) Observe(fn func([]MutationRecord)) (disconnect func()) {
	o := &observer{fn: fn}
	d.observers = append(d.observers, o)
	return func() {
		o.removed = true
		for i, x := range d.observers {
			if x == o {
				d.observers = append(d.observers[:i:i], d.observers[i+1:]...)
				break
			}
		}
	}
}

func (d *Document) queueMutation(rec MutationRecord) {
	if len(d.observers) == 0 {
		return
	}
	d.pending = append(d.pending, rec)
	if d.flushQueued || d.sched == nil {
		return
	}
	d.flushQueued = true
	Post(d.sched, d.flushMutations)
}

func (d *Document) flushMutations() {
	d.flushQueued = false
	records := d.pending
	d.pending = nil
	if len(records) == 0 {
		return
	}
	for _, o := range append([]*observer(nil), d.observers...) {
		if o.removed {
			continue
		}
		d.safely(func() { o.fn(records) })
	}
}
