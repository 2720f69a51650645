package host

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gzhole/spendshield/internal/decision"
)

// sendTimeout bounds fire-and-forget sends.
const sendTimeout = 5 * time.Second

// SafeSend delivers msg and degrades any failure to a nil response.
func SafeSend(ctx context.Context, ch Channel, msg Message, log *zap.Logger) *Response {
	if ch == nil {
		return nil
	}
	resp, err := ch.Send(ctx, msg)
	if err != nil {
		if log != nil {
			log.Debug("host message failed", zap.String("type", msg.Type), zap.Error(err))
		}
		return nil
	}
	return resp
}

// Reporter forwards decision reports to the host.
type Reporter struct {
	Channel Channel
	Log     *zap.Logger
}

var _ decision.Reporter = (*Reporter)(nil)

func (r *Reporter) LogIntercept(rep decision.Report) { r.send(MsgLogIntercept, rep) }

func (r *Reporter) LogPurchase(rep decision.Report) { r.send(MsgLogPurchase, rep) }

// LogDeclined records a purchase the user decided against.
func (r *Reporter) LogDeclined(rep decision.Report) { r.send(MsgLogDeclined, rep) }

func (r *Reporter) send(typ string, rep decision.Report) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	SafeSend(ctx, r.Channel, Message{Type: typ, Data: &rep}, r.Log)
}
