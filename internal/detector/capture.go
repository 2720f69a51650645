package detector

import (
	"github.com/gzhole/spendshield/internal/jsonv"
	"github.com/gzhole/spendshield/internal/page"
)

// Trigger says what opened an episode.
type Trigger string

const (
	TriggerClick   Trigger = "click"
	TriggerSubmit  Trigger = "submit"
	TriggerFocus   Trigger = "focus"
	TriggerManual  Trigger = "manual"
	TriggerRequest Trigger = "request"
)

// Replayable reports whether the trigger suppressed a page action that
// must be redone when the user proceeds.
func (t Trigger) Replayable() bool {
	return t == TriggerClick || t == TriggerSubmit
}

// Capture is a suppressed user action and the suppressions installed
// for it.
type Capture struct {
	Trigger Trigger
	// Element is the activated control. It may be nil for a submit
	// without a known submitter.
	Element *page.Element
	Form    *page.Element
	URL     string
	// Payloads are request bodies captured with the action.
	Payloads []*jsonv.Value

	release  []func()
	released bool
}

// NewCapture builds a capture with no suppressions, for hosts that hold
// the action themselves.
func NewCapture(t Trigger, url string) *Capture {
	return &Capture{Trigger: t, URL: url}
}

func (c *Capture) onRelease(fn func()) {
	c.release = append(c.release, fn)
}

// Release removes every suppression the capture installed. It is safe to
// call more than once.
func (c *Capture) Release() {
	if c == nil || c.released {
		return
	}
	c.released = true
	for i := len(c.release) - 1; i >= 0; i-- {
		c.release[i]()
	}
	c.release = nil
}

func (c *Capture) Released() bool { return c == nil || c.released }

// Replay redoes the suppressed action: the form is submitted directly
// when there is one, otherwise the element is clicked again. It reports
// whether anything was replayed.
func (c *Capture) Replay() bool {
	if c == nil || !c.Trigger.Replayable() {
		return false
	}
	c.Release()
	switch {
	case c.Form != nil && c.Form.Attached():
		c.Form.Submit()
	case c.Element != nil && c.Element.Attached():
		c.Element.Click()
	default:
		return false
	}
	return true
}
