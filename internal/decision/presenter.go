package decision

import (
	"github.com/shopspring/decimal"

	"github.com/gzhole/spendshield/internal/price"
	"github.com/gzhole/spendshield/internal/risk"
)

// Presenter shows the episode to the user. Implementations must not call
// back into the Machine from inside these methods; user input is posted
// to the page scheduler instead.
type Presenter interface {
	ShowPicker(ep *Episode)
	ShowDecision(ep *Episode)
	Unlock(ep *Episode)
	Hide(ep *Episode)
	Toast(msg string)
}

// Env is what the machine needs to know about the page and the user.
type Env interface {
	Enabled() bool
	URL() string
	Domain() string
	Title() string
	Currency() string
	// Candidates ranks the prices available for a capture.
	Candidates(ep *Episode) []price.Ranked
	Basis() risk.Basis
	// Spent is what the user already spent this month.
	Spent() decimal.Decimal
	// Profile may be nil when no profile has been synced.
	Profile() *risk.Profile
}

// Report is the payload of the intercept and purchase log messages.
type Report struct {
	Amount    *decimal.Decimal `json:"amount"`
	RiskLevel string           `json:"riskLevel"`
	Domain    string           `json:"domain"`
	PageTitle string           `json:"pageTitle"`
}

// Reporter forwards log messages to the host. Delivery failures are the
// reporter's concern.
type Reporter interface {
	LogIntercept(r Report)
	LogPurchase(r Report)
}

// NopPresenter shows nothing.
type NopPresenter struct{}

func (NopPresenter) ShowPicker(*Episode)   {}
func (NopPresenter) ShowDecision(*Episode) {}
func (NopPresenter) Unlock(*Episode)       {}
func (NopPresenter) Hide(*Episode)         {}
func (NopPresenter) Toast(string)          {}

// Controls are the user inputs a presenter can forward. Machine
// implements it.
type Controls interface {
	SelectPrice(v decimal.Decimal) error
	EnterPrice(raw string) error
	SkipPrice() error
	Answer(step int, value string) error
	StartCooldown() error
	Proceed() error
	KeepMoney() error
	DismissBackdrop() bool
}

var _ Controls = (*Machine)(nil)
