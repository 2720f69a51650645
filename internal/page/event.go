package page

import (
	"golang.org/x/net/html"
)

// Phase is the propagation phase an event is in.
type Phase uint8

const (
	PhaseNone Phase = iota
	PhaseCapture
	PhaseTarget
	PhaseBubble
)

// Event types the document dispatches itself.
const (
	EventClick  = "click"
	EventSubmit = "submit"
	EventFocus  = "focus"
)

// Event follows DOM dispatch semantics: capture from the document down,
// the target, then bubble back up when Bubbles is set.
type Event struct {
	Type       string
	Target     *Element
	Bubbles    bool
	Cancelable bool

	// Submitter is the button that triggered a submit event, if any.
	Submitter *Element

	currentTarget    *Element
	phase            Phase
	defaultPrevented bool
	stopped          bool
	stoppedNow       bool
}

// CurrentTarget is nil while a document-level listener runs.
func (e *Event) CurrentTarget() *Element { return e.currentTarget }
func (e *Event) Phase() Phase            { return e.phase }

func (e *Event) PreventDefault() {
	if e.Cancelable {
		e.defaultPrevented = true
	}
}

func (e *Event) DefaultPrevented() bool { return e.defaultPrevented }

// StopPropagation keeps the event from reaching further nodes. Remaining
// listeners on the current node still run.
func (e *Event) StopPropagation() { e.stopped = true }

// StopImmediatePropagation also skips the remaining listeners on the
// current node.
func (e *Event) StopImmediatePropagation() {
	e.stopped = true
	e.stoppedNow = true
}

// Listener handles an event.
type Listener func(*Event)

// ListenerOptions mirror addEventListener options.
type ListenerOptions struct {
	Capture bool
	Once    bool
}

type listener struct {
	typ     string
	fn      Listener
	capture bool
	once    bool
	removed bool
}

func (d *Document) addListener(n *html.Node, typ string, fn Listener, opts ListenerOptions) func() {
	l := &listener{typ: typ, fn: fn, capture: opts.Capture, once: opts.Once}
	d.listeners[n] = append(d.listeners[n], l)
	return func() { d.removeListener(n, l) }
}

func (d *Document) removeListener(n *html.Node, l *listener) {
	l.removed = true
	list := d.listeners[n]
	for i, x := range list {
		if x == l {
			d.listeners[n] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(d.listeners[n]) == 0 {
		delete(d.listeners, n)
	}
}

// dispatch delivers ev to target and reports whether the default action
// should run.
func (d *Document) dispatch(target *html.Node, ev *Event) bool {
	ev.Target = d.wrap(target)

	// path[0] is the target, the last entry is the document node.
	var path []*html.Node
	for n := target; n != nil; n = n.Parent {
		path = append(path, n)
	}

	ev.phase = PhaseCapture
	for i := len(path) - 1; i > 0 && !ev.stopped; i-- {
		d.invoke(path[i], ev, func(l *listener) bool { return l.capture })
	}

	if !ev.stopped {
		ev.phase = PhaseTarget
		d.invoke(target, ev, func(l *listener) bool { return l.capture })
		if !ev.stoppedNow {
			d.invoke(target, ev, func(l *listener) bool { return !l.capture })
		}
	}

	if ev.Bubbles {
		ev.phase = PhaseBubble
		for i := 1; i < len(path) && !ev.stopped; i++ {
			d.invoke(path[i], ev, func(l *listener) bool { return !l.capture })
		}
	}

	ev.phase = PhaseNone
	ev.currentTarget = nil
	return !ev.defaultPrevented
}

func (d *Document) invoke(n *html.Node, ev *Event, want func(*listener) bool) {
	list := d.listeners[n]
	if len(list) == 0 {
		return
	}
	snapshot := append([]*listener(nil), list...)

	if n.Type == html.DocumentNode {
		ev.currentTarget = nil
	} else {
		ev.currentTarget = d.wrap(n)
	}

	for _, l := range snapshot {
		if l.removed || l.typ != ev.Type || !want(l) {
			continue
		}
		if l.once {
			d.removeListener(n, l)
		}
		d.call(l.fn, ev)
		if ev.stoppedNow {
			return
		}
	}
}

func (d *Document) call(fn Listener, ev *Event) {
	defer func() {
		if r := recover(); r != nil && d.OnPanic != nil {
			d.OnPanic(r)
		}
	}()
	fn(ev)
}
