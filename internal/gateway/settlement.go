package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	"go.uber.org/zap"
)

var errStillPending = errors.New("transaction still pending")

// AwaitSettlement polls the node until the transaction leaves the mempool or the
// attempt budget runs out. Running out is reported as a timeout settlement, not an error;
// the outcome is then unknown and callers must re-query state before resubmitting.
func (g *Gateway) AwaitSettlement(ctx context.Context, txID string) (*domain.Settlement, error) {
	if strings.TrimSpace(txID) == "" {
		return nil, fmt.Errorf("%w: empty transaction id", domain.ErrInvalidInput)
	}
	attempts := g.cfg.PollAttempts
	if attempts <= 0 {
		attempts = 30
	}
	interval := g.cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	polls := 0
	st, err := backoff.Retry(ctx,
		func() (*TxStatus, error) {
			polls++
			st, err := g.node.TxStatus(ctx, txID)
			switch {
			case errors.Is(err, errTxNotIndexed):
				return nil, errStillPending
			case errors.Is(err, domain.ErrNetworkFailure), errors.Is(err, domain.ErrTimeout):
				// a flaky node is not an answer; keep polling within the budget
				g.log.Debug("settlement poll failed", zap.String("tx_id", txID), zap.Error(err))
				return nil, errStillPending
			case err != nil:
				return nil, backoff.Permanent(err)
			case st.Pending():
				return nil, errStillPending
			}
			return st, nil
		},
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	)

	g.metrics.SettlementPolls.Observe(float64(polls))

	switch {
	case errors.Is(err, errStillPending):
		g.metrics.SettlementsTotal.WithLabelValues(string(domain.SettlementTimeout)).Inc()
		g.log.Warn("transaction did not settle within poll budget",
			zap.String("tx_id", txID),
			zap.Int("polls", polls),
		)
		return &domain.Settlement{
			TxID:      txID,
			Status:    domain.SettlementTimeout,
			Attempts:  polls,
			SettledAt: g.now(),
		}, nil
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: awaiting %s: %v", domain.ErrTimeout, txID, ctxErr)
		}
		return nil, err
	}

	s := &domain.Settlement{
		TxID:      txID,
		Attempts:  polls,
		Result:    st.TxResult.Repr,
		SettledAt: g.now(),
	}
	function := st.ContractCall.FunctionName

	switch {
	case st.Status == "success":
		s.Status = domain.SettlementSuccess
		// a read-only style (err ...) result inside a successful tx still means rejection
		if strings.HasPrefix(st.TxResult.Repr, "(err ") {
			s.Status = domain.SettlementFailed
			s.Err = resultError(function, st.TxResult.Hex, st.TxResult.Repr)
		}
	case st.Status == "abort_by_response":
		s.Status = domain.SettlementFailed
		s.Err = resultError(function, st.TxResult.Hex, st.TxResult.Repr)
	case st.Status == "abort_by_post_condition":
		s.Status = domain.SettlementFailed
		s.Err = fmt.Errorf("%w: %s aborted by post-condition", domain.ErrInvalidInput, function)
	case strings.HasPrefix(st.Status, "dropped"):
		s.Status = domain.SettlementFailed
		s.Err = fmt.Errorf("%w: %s dropped from mempool (%s)", domain.ErrNetworkFailure, function, st.Status)
	default:
		return nil, fmt.Errorf("%w: unknown tx status %q for %s", domain.ErrDecode, st.Status, txID)
	}

	g.metrics.SettlementsTotal.WithLabelValues(string(s.Status)).Inc()
	g.log.Info("transaction settled",
		zap.String("tx_id", txID),
		zap.String("function", function),
		zap.String("status", string(s.Status)),
		zap.String("result", s.Result),
		zap.Int("polls", polls),
	)
	return s, nil
}
