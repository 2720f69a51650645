// Package decision runs one purchase interception from capture to the
// user's verdict.
package decision

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/gzhole/spendshield/internal/detector"
	"github.com/gzhole/spendshield/internal/price"
	"github.com/gzhole/spendshield/internal/risk"
)

// Phase is where the machine is in the current episode.
type Phase int

const (
	Idle Phase = iota
	AwaitingPrice
	AwaitingDecision
	Resolved
)

func (p Phase) String() string {
	switch p {
	case AwaitingPrice:
		return "awaiting_price"
	case AwaitingDecision:
		return "awaiting_decision"
	case Resolved:
		return "resolved"
	}
	return "idle"
}

type Verdict string

const (
	VerdictPending Verdict = "pending"
	VerdictAllow   Verdict = "allow"
	VerdictDeny    Verdict = "deny"
)

// Reasons recorded on resolved episodes.
const (
	ReasonProceeded = "proceeded"
	ReasonKeptMoney = "kept_money"
	ReasonDismissed = "dismissed"
	ReasonNavigated = "navigated"
	ReasonShutdown  = "shutdown"
	// ReasonTimedOut closes an episode whose held call was already let
	// through on the hold timeout.
	ReasonTimedOut = "timeout"
)

// Episode is one capture-to-resolution cycle.
type Episode struct {
	ID        string           `json:"id"`
	URL       string           `json:"url"`
	Domain    string           `json:"domain"`
	PageTitle string           `json:"page_title"`
	Trigger   detector.Trigger `json:"trigger"`

	Capture *detector.Capture `json:"-"`

	Candidates   []price.Ranked     `json:"candidates,omitempty"`
	Amount       *decimal.Decimal   `json:"amount"`
	AutoResolved bool               `json:"auto_resolved"`
	Tier         risk.Tier          `json:"risk_level,omitempty"`
	Label        string             `json:"label,omitempty"`
	Message      string             `json:"message,omitempty"`
	Budget       risk.BudgetContext `json:"budget"`
	Impact       *risk.Impact       `json:"impact,omitempty"`

	Answers  []string `json:"answers,omitempty"`
	Cooldown bool     `json:"cooldown"`
	Unlocked bool     `json:"unlocked"`

	Verdict    Verdict   `json:"verdict"`
	Reason     string    `json:"reason,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}

// Question is one reflective prompt.
type Question struct {
	Prompt  string
	Options []Option
}

type Option struct {
	Value string
	Text  string
}

// Questions must all be answered, in order, before proceeding unlocks
// (unless a cooldown is used instead).
var Questions = []Question{
	{
		Prompt: "Do you actually need this, or does it just feel good right now?",
		Options: []Option{
			{"need", "I genuinely need it"},
			{"want", "Honestly, it's more of a want"},
			{"unsure", "Not totally sure"},
		},
	},
	{
		Prompt: "Have you planned for this, or is it spontaneous?",
		Options: []Option{
			{"planned", "It's been on my list"},
			{"spontaneous", "Spontaneous, saw it and wanted it"},
			{"influenced", "Triggered by an ad or recommendation"},
		},
	},
	{
		Prompt: "How will you feel about this tomorrow morning?",
		Options: []Option{
			{"great", "Great, I'll be glad I bought it"},
			{"regret", "Probably a bit guilty"},
			{"neutral", "Neutral, won't think about it"},
		},
	},
}

func validAnswer(step int, value string) bool {
	for _, o := range Questions[step].Options {
		if o.Value == value {
			return true
		}
	}
	return false
}
