package page

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Element wraps an element node. A Document hands out one Element per
// node, so pointers can be compared for identity.
type Element struct {
	doc  *Document
	node *html.Node
}

func (e *Element) Document() *Document { return e.doc }

// Node exposes the underlying tree node.
func (e *Element) Node() *html.Node { return e.node }

// Tag is the lowercase tag name.
func (e *Element) Tag() string { return e.node.Data }

func (e *Element) ID() string { return attr(e.node, "id") }

func (e *Element) Attr(key string) string { return attr(e.node, key) }

func (e *Element) HasAttr(key string) bool { return hasAttr(e.node, key) }

func (e *Element) SetAttr(key, val string) {
	for i, a := range e.node.Attr {
		if a.Namespace == "" && a.Key == key {
			e.node.Attr[i].Val = val
			return
		}
	}
	e.node.Attr = append(e.node.Attr, html.Attribute{Key: key, Val: val})
}

// Value is the current value of a form control.
func (e *Element) Value() string { return attr(e.node, "value") }

func (e *Element) SetValue(v string) { e.SetAttr("value", v) }

// Text is the element's text content. Script and style bodies are left
// out unless the element is itself a script or style.
func (e *Element) Text() string {
	if isElement(e.node, atom.Script) || isElement(e.node, atom.Style) {
		var b strings.Builder
		for c := e.node.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
		}
		return b.String()
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch c.Type {
			case html.TextNode:
				b.WriteString(c.Data)
			case html.ElementNode:
				if c.DataAtom == atom.Script || c.DataAtom == atom.Style {
					continue
				}
				walk(c)
			}
		}
	}
	walk(e.node)
	return b.String()
}

// Parent returns the parent element, or nil at the top of the tree.
func (e *Element) Parent() *Element {
	p := e.node.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil
	}
	return e.doc.wrap(p)
}

// Attached reports whether the element is still in the document.
func (e *Element) Attached() bool {
	for n := e.node; n != nil; n = n.Parent {
		if n == e.doc.root {
			return true
		}
	}
	return false
}

// Contains reports whether other is e or one of its descendants.
func (e *Element) Contains(other *Element) bool {
	for n := other.node; n != nil; n = n.Parent {
		if n == e.node {
			return true
		}
	}
	return false
}

func (e *Element) sel() *goquery.Selection {
	return goquery.NewDocumentFromNode(e.node).Selection
}

// Matches reports whether the element satisfies selector.
func (e *Element) Matches(selector string) bool {
	return e.sel().Is(selector)
}

// Closest returns the nearest ancestor-or-self matching selector.
func (e *Element) Closest(selector string) *Element {
	nodes := e.sel().Closest(selector).Nodes
	if len(nodes) == 0 {
		return nil
	}
	return e.doc.wrap(nodes[0])
}

// Find returns descendants matching selector.
func (e *Element) Find(selector string) []*Element {
	return e.doc.wrapAll(e.sel().Find(selector).Nodes)
}

// InOwnUI reports whether the element belongs to a subtree the engine
// rendered.
func (e *Element) InOwnUI() bool {
	for n := e.node; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && hasAttr(n, OwnUIAttr) {
			return true
		}
	}
	return false
}

// Mark tags the element with key and reports whether the tag is new.
// Marks are invisible to the page.
func (e *Element) Mark(key string) bool {
	m := e.doc.marks[e.node]
	if m == nil {
		m = map[string]bool{}
		e.doc.marks[e.node] = m
	}
	if m[key] {
		return false
	}
	m[key] = true
	return true
}

func (e *Element) Marked(key string) bool { return e.doc.marks[e.node][key] }

// Unmark removes key so a later Mark succeeds again.
func (e *Element) Unmark(key string) {
	delete(e.doc.marks[e.node], key)
}

// AddEventListener registers fn for events of type typ on this element.
func (e *Element) AddEventListener(typ string, fn Listener, opts ListenerOptions) (remove func()) {
	return e.doc.addListener(e.node, typ, fn, opts)
}

// Dispatch sends a custom event and reports whether its default was left
// alone.
func (e *Element) Dispatch(ev *Event) bool {
	return e.doc.dispatch(e.node, ev)
}

// Form returns the form that owns this control, honouring the form
// attribute.
func (e *Element) Form() *Element {
	if id := attr(e.node, "form"); id != "" {
		if f := e.doc.GetByID(id); f != nil && f.Tag() == "form" {
			return f
		}
	}
	for n := e.node.Parent; n != nil; n = n.Parent {
		if isElement(n, atom.Form) {
			return e.doc.wrap(n)
		}
	}
	return nil
}

// IsSubmitButton reports whether activating the element submits its form.
func (e *Element) IsSubmitButton() bool {
	switch e.node.DataAtom {
	case atom.Button:
		t := strings.ToLower(attr(e.node, "type"))
		return t == "" || t == "submit"
	case atom.Input:
		t := strings.ToLower(attr(e.node, "type"))
		return t == "submit" || t == "image"
	}
	return false
}

// Click dispatches a click and, unless a listener prevents it, runs the
// default action: submit buttons request submission of their form and
// anything else is reported as an activation.
func (e *Element) Click() {
	if e.HasAttr("disabled") {
		return
	}
	ev := &Event{Type: EventClick, Bubbles: true, Cancelable: true}
	if !e.doc.dispatch(e.node, ev) {
		return
	}
	if e.IsSubmitButton() {
		if f := e.Form(); f != nil {
			f.RequestSubmit(e)
			return
		}
	}
	e.doc.performAction(Action{Kind: ActionActivate, Element: e})
}

// RequestSubmit fires a submit event at the form and submits it if no
// listener objects. It is a no-op on anything but a form.
func (e *Element) RequestSubmit(submitter *Element) {
	if !isElement(e.node, atom.Form) {
		return
	}
	ev := &Event{Type: EventSubmit, Bubbles: true, Cancelable: true, Submitter: submitter}
	if !e.doc.dispatch(e.node, ev) {
		return
	}
	e.doc.performAction(Action{Kind: ActionSubmit, Element: e, Submitter: submitter})
}

// Submit submits the form without firing a submit event, like
// HTMLFormElement.submit.
func (e *Element) Submit() {
	if !isElement(e.node, atom.Form) {
		return
	}
	e.doc.performAction(Action{Kind: ActionSubmit, Element: e})
}

// Focus moves focus to the element. Focus events do not bubble, but
// capturing listeners on ancestors still see them.
func (e *Element) Focus() {
	if e.doc.focused == e.node {
		return
	}
	e.doc.focused = e.node
	e.doc.dispatch(e.node, &Event{Type: EventFocus})
}

// Blur drops focus if the element has it.
func (e *Element) Blur() {
	if e.doc.focused == e.node {
		e.doc.focused = nil
	}
}

// AppendHTML parses markup in the context of e, appends the resulting
// nodes and queues a mutation record.
func (e *Element) AppendHTML(markup string) ([]*Element, error) {
	nodes, err := html.ParseFragment(strings.NewReader(markup), e.node)
	if err != nil {
		return nil, fmt.Errorf("append html: %w", err)
	}
	var added []*Element
	for _, n := range nodes {
		e.node.AppendChild(n)
		if n.Type == html.ElementNode {
			added = append(added, e.doc.wrap(n))
		}
	}
	if len(added) > 0 {
		e.doc.queueMutation(MutationRecord{Target: e, Added: added})
	}
	return added, nil
}

// SetInnerHTML replaces all children of e.
func (e *Element) SetInnerHTML(markup string) ([]*Element, error) {
	var removed []*Element
	for c := e.node.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode {
			removed = append(removed, e.doc.wrap(c))
		}
		e.node.RemoveChild(c)
		c = next
	}
	if len(removed) > 0 {
		e.doc.queueMutation(MutationRecord{Target: e, Removed: removed})
	}
	return e.AppendHTML(markup)
}

// Remove detaches the element from its parent.
func (e *Element) Remove() {
	p := e.node.Parent
	if p == nil {
		return
	}
	p.RemoveChild(e.node)
	if e.doc.focused != nil && e.Contains(e.doc.wrap(e.doc.focused)) {
		e.doc.focused = nil
	}
	if p.Type == html.ElementNode {
		e.doc.queueMutation(MutationRecord{Target: e.doc.wrap(p), Removed: []*Element{e}})
	}
}

func (e *Element) String() string {
	var b strings.Builder
	b.WriteString("<" + e.node.Data)
	if id := e.ID(); id != "" {
		b.WriteString(` id="` + id + `"`)
	}
	if c := attr(e.node, "class"); c != "" {
		b.WriteString(` class="` + c + `"`)
	}
	b.WriteString(">")
	return b.String()
}
