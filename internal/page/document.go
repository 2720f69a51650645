// Package page models a live web page: an HTML tree with DOM-style events,
// forms, mutation notifications and client-side navigation. The engine
// attaches to a Document the same way a script attaches to a browser tab.
//
// A Document is not safe for concurrent use. All calls must happen on the
// goroutine that drives its Scheduler.
package page

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/gzhole/spendshield/internal/jsonv"
)

// OwnUIAttr marks subtrees rendered by the engine itself. Scans skip them.
const OwnUIAttr = "data-spendshield"

// Action is a default action the page performed because nothing
// prevented it.
type Action struct {
	Kind      string   // "submit" or "activate"
	Element   *Element // the form for submit, the clicked element otherwise
	Submitter *Element
}

const (
	ActionSubmit   = "submit"
	ActionActivate = "activate"
)

type Document struct {
	root  *html.Node
	q     *goquery.Document
	url   *url.URL
	sched Scheduler

	elems     map[*html.Node]*Element
	marks     map[*html.Node]map[string]bool
	listeners map[*html.Node][]*listener
	focused   *html.Node

	observers   []*observer
	pending     []MutationRecord
	flushQueued bool

	locationFns []*locationObserver
	actionFns   []*actionObserver

	globals map[string]*jsonv.Value

	// OnPanic receives panics recovered from listeners and observers.
	OnPanic func(recovered any)
}

// Parse builds a Document from markup. rawURL is the page location.
// Inline JSON islands (<script type="application/json" id="...">) are
// exposed as globals under their id.
func Parse(r io.Reader, rawURL string, sched Scheduler) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	d := &Document{
		root:      root,
		q:         goquery.NewDocumentFromNode(root),
		url:       u,
		sched:     sched,
		elems:     map[*html.Node]*Element{},
		marks:     map[*html.Node]map[string]bool{},
		listeners: map[*html.Node][]*listener{},
		globals:   map[string]*jsonv.Value{},
	}
	d.loadJSONIslands()
	return d, nil
}

// ParseString is Parse for in-memory markup.
func ParseString(markup, rawURL string, sched Scheduler) (*Document, error) {
	return Parse(strings.NewReader(markup), rawURL, sched)
}

func (d *Document) loadJSONIslands() {
	d.q.Find(`script[type="application/json"][id]`).Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("id")
		v, err := jsonv.Parse([]byte(s.Text()))
		if err != nil {
			return
		}
		d.globals[id] = v
	})
}

func (d *Document) Scheduler() Scheduler { return d.sched }

// URL is the current location, including client-side navigations.
func (d *Document) URL() string { return d.url.String() }

// Host is the hostname of the current location.
func (d *Document) Host() string { return d.url.Hostname() }

func (d *Document) Title() string {
	return strings.TrimSpace(d.q.Find("title").First().Text())
}

// Global returns a page-level state object by name, or nil.
func (d *Document) Global(name string) *jsonv.Value { return d.globals[name] }

func (d *Document) SetGlobal(name string, v *jsonv.Value) { d.globals[name] = v }

// Globals returns a copy of all page-level state objects.
func (d *Document) Globals() map[string]*jsonv.Value {
	out := make(map[string]*jsonv.Value, len(d.globals))
	for k, v := range d.globals {
		out[k] = v
	}
	return out
}

// Body returns the <body> element.
func (d *Document) Body() *Element {
	return d.First("body")
}

// Find returns every element matching selector in document order. An
// invalid selector matches nothing.
func (d *Document) Find(selector string) []*Element {
	return d.wrapAll(d.q.Find(selector).Nodes)
}

// First returns the first element matching selector, or nil.
func (d *Document) First(selector string) *Element {
	nodes := d.q.Find(selector).Nodes
	if len(nodes) == 0 {
		return nil
	}
	return d.wrap(nodes[0])
}

// GetByID returns the element with the given id, or nil.
func (d *Document) GetByID(id string) *Element {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil && found == nil; c = c.NextSibling {
			if c.Type == html.ElementNode && attr(c, "id") == id {
				found = c
				return
			}
			walk(c)
		}
	}
	walk(d.root)
	if found == nil {
		return nil
	}
	return d.wrap(found)
}

// AddEventListener registers a document-level listener. It runs first in
// the capture phase and last in the bubble phase.
func (d *Document) AddEventListener(typ string, fn Listener, opts ListenerOptions) (remove func()) {
	return d.addListener(d.root, typ, fn, opts)
}

// ActiveElement is the element that last received focus.
func (d *Document) ActiveElement() *Element {
	if d.focused == nil {
		return nil
	}
	return d.wrap(d.focused)
}

type locationObserver struct {
	fn      func(oldURL, newURL string)
	removed bool
}

// OnLocationChange registers fn for client-side navigations.
func (d *Document) OnLocationChange(fn func(oldURL, newURL string)) (remove func()) {
	o := &locationObserver{fn: fn}
	d.locationFns = append(d.locationFns, o)
	return func() { o.removed = true }
}

// PushState changes the location without reloading, like
// history.pushState. Relative targets resolve against the current URL.
func (d *Document) PushState(target string) error {
	next, err := d.url.Parse(target)
	if err != nil {
		return fmt.Errorf("push state: %w", err)
	}
	old := d.url.String()
	d.url = next
	if old == next.String() {
		return nil
	}
	for _, o := range append([]*locationObserver(nil), d.locationFns...) {
		if !o.removed {
			d.safely(func() { o.fn(old, next.String()) })
		}
	}
	return nil
}

type actionObserver struct {
	fn      func(Action)
	removed bool
}

// OnAction registers fn for default actions: native form submission and
// activation of links and plain buttons. Hosts use it to learn that the
// page went ahead with something.
func (d *Document) OnAction(fn func(Action)) (remove func()) {
	o := &actionObserver{fn: fn}
	d.actionFns = append(d.actionFns, o)
	return func() { o.removed = true }
}

func (d *Document) performAction(a Action) {
	for _, o := range append([]*actionObserver(nil), d.actionFns...) {
		if !o.removed {
			d.safely(func() { o.fn(a) })
		}
	}
}

func (d *Document) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil && d.OnPanic != nil {
			d.OnPanic(r)
		}
	}()
	fn()
}

// HTML renders the current tree.
func (d *Document) HTML() string {
	var b strings.Builder
	_ = html.Render(&b, d.root)
	return b.String()
}

func (d *Document) wrap(n *html.Node) *Element {
	if n == nil {
		return nil
	}
	if e, ok := d.elems[n]; ok {
		return e
	}
	e := &Element{doc: d, node: n}
	d.elems[n] = e
	return e
}

func (d *Document) wrapAll(nodes []*html.Node) []*Element {
	out := make([]*Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, d.wrap(n))
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return true
		}
	}
	return false
}

func isElement(n *html.Node, a atom.Atom) bool {
	return n != nil && n.Type == html.ElementNode && n.DataAtom == a
}
