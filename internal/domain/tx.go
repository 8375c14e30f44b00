package domain

import "time"

// TransactionResult means "accepted by the network", not "applied".
// Callers must await settlement before treating the effect as durable.
type TransactionResult struct {
	TxID        string    `json:"tx_id"`
	Function    string    `json:"function"`
	Sender      Principal `json:"sender"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type SettlementStatus string

const (
	SettlementSuccess SettlementStatus = "success"
	SettlementFailed  SettlementStatus = "failed"
	// SettlementTimeout is an unknown outcome; re-query state before retrying.
	SettlementTimeout SettlementStatus = "timeout"
)

type Settlement struct {
	TxID     string           `json:"tx_id"`
	Status   SettlementStatus `json:"status"`
	Attempts int              `json:"attempts"`
	// Result is the decoded contract result, e.g. "(ok true)" or "(err u101)".
	Result string `json:"result,omitempty"`
	// Err is the contract rejection mapped into the error taxonomy. Set only when Status is failed.
	Err       error     `json:"-"`
	SettledAt time.Time `json:"settled_at"`
}

func (s *Settlement) Succeeded() bool { return s != nil && s.Status == SettlementSuccess }

func (s *Settlement) TimedOut() bool { return s != nil && s.Status == SettlementTimeout }

// ErrorKind is the taxonomy name of the rejection, empty unless failed.
func (s *Settlement) ErrorKind() string {
	if s == nil || s.Err == nil {
		return ""
	}
	return Kind(s.Err)
}
