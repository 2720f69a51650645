package host

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/gzhole/spendshield/internal/config"
	"github.com/gzhole/spendshield/internal/decision"
	"github.com/gzhole/spendshield/internal/scoring"
)

// Request message types.
const (
	MsgGetState       = "GET_STATE"
	MsgGetProfile     = "GET_PROFILE"
	MsgStoreProfile   = "STORE_PROFILE"
	MsgSyncProfile    = "SYNC_PROFILE"
	MsgUpdateSettings = "UPDATE_SETTINGS"
	MsgSaveSettings   = "SAVE_SETTINGS"
	MsgLogIntercept   = "LOG_INTERCEPT"
	MsgLogPurchase    = "LOG_PURCHASE"
	MsgLogDeclined    = "LOG_DECLINED"
	MsgResetAll       = "RESET_ALL"
	MsgClearHistory   = "CLEAR_HISTORY"
	MsgResetStats     = "RESET_STATS"
)

// Push message types sent from the host to pages.
const (
	PushManualScan   = "MANUAL_SCAN"
	PushStateUpdated = "STATE_UPDATED"
	PushTogglePanel  = "TOGGLE_PANEL"
)

// HistoryLimit caps the stored history.
const HistoryLimit = 200

// Message is a request to the host.
type Message struct {
	Type string           `json:"type"`
	Data *decision.Report `json:"data,omitempty"`
	// Settings is a partial object for UPDATE_SETTINGS and a full one for
	// SAVE_SETTINGS.
	Settings json.RawMessage  `json:"settings,omitempty"`
	Profile  *scoring.Profile `json:"profile,omitempty"`
}

// Response is the host's answer. Which fields are set depends on the
// message type.
type Response struct {
	OK      bool             `json:"ok"`
	Reason  string           `json:"reason,omitempty"`
	Error   string           `json:"error,omitempty"`
	State   *State           `json:"state,omitempty"`
	Profile *scoring.Profile `json:"profile,omitempty"`
}

// Push is an unsolicited message to pages.
type Push struct {
	Type string `json:"type"`
}

// Session counts today's activity. It rolls over on the first message of
// a new day.
type Session struct {
	Date           string          `json:"date"`
	InterceptCount int             `json:"interceptCount"`
	ProceededCount int             `json:"proceededCount"`
	SessionSpend   decimal.Decimal `json:"sessionSpend"`
	MonthlySpend   decimal.Decimal `json:"monthlySpend"`
}

// Stats are the lifetime counters.
type Stats struct {
	TotalSaved     decimal.Decimal            `json:"totalSaved"`
	TotalWarnings  int                        `json:"totalWarnings"`
	TotalBlocked   int                        `json:"totalBlocked"`
	TotalProceeded int                        `json:"totalProceeded"`
	MonthlySpend   map[string]decimal.Decimal `json:"monthlySpend"`
	StreakDays     int                        `json:"streakDays"`
	BestStreak     int                        `json:"bestStreak"`
	// LastProtectedDay is a YYYY-MM-DD key, empty when never protected.
	LastProtectedDay string `json:"lastProtectedDay,omitempty"`
}

// HistoryEntry is one logged event. Action is intercepted, purchased or
// declined.
type HistoryEntry struct {
	ID        int64            `json:"id"`
	Timestamp int64            `json:"timestamp"`
	Amount    *decimal.Decimal `json:"amount"`
	RiskLevel string           `json:"riskLevel"`
	Domain    string           `json:"domain"`
	PageTitle string           `json:"pageTitle,omitempty"`
	Action    string           `json:"action"`
}

type Streak struct {
	Current int `json:"current"`
	Best    int `json:"best"`
}

// State is the GET_STATE payload.
type State struct {
	Settings config.Settings  `json:"settings"`
	Session  Session          `json:"session"`
	History  []HistoryEntry   `json:"history"`
	Streak   Streak           `json:"streak"`
	Stats    Stats            `json:"stats"`
	Profile  *scoring.Profile `json:"profile"`
}

func newStats() Stats {
	return Stats{MonthlySpend: map[string]decimal.Decimal{}}
}
