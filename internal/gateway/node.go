package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dmehra2102/prod-golang-projects/securehealth/config"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/clarity"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/securehealth/pkg/metrics"
	"github.com/dmehra2102/prod-golang-projects/securehealth/pkg/tracer"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// errTxNotIndexed is returned by TxStatus when the node has not seen the transaction yet.
var errTxNotIndexed = errors.New("transaction not indexed yet")

// TxStatus is the subset of the node's transaction resource used for settlement.
type TxStatus struct {
	TxID     string `json:"tx_id"`
	Status   string `json:"tx_status"`
	TxResult struct {
		Hex  string `json:"hex"`
		Repr string `json:"repr"`
	} `json:"tx_result"`
	ContractCall struct {
		ContractID   string `json:"contract_id"`
		FunctionName string `json:"function_name"`
	} `json:"contract_call"`
}

func (s *TxStatus) Pending() bool {
	return s.Status == "pending" || s.Status == ""
}

type readOnlyRequest struct {
	Sender    string   `json:"sender"`
	Arguments []string `json:"arguments"`
}

type readOnlyResponse struct {
	Okay   bool   `json:"okay"`
	Result string `json:"result"`
	Cause  string `json:"cause"`
}

// NodeClient speaks the Stacks node HTTP API. Calls are rate limited client side and
// pass through a circuit breaker that only counts transport faults.
type NodeClient struct {
	baseURL  string
	contract config.ContractConfig
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[*http.Response]
	metrics  *metrics.Collector
	tracer   trace.Tracer
	log      *zap.Logger
}

func NewNodeClient(cfg config.ContractConfig, httpClient *http.Client, m *metrics.Collector, log *zap.Logger) *NodeClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if m == nil {
		m = metrics.NewNop()
	}
	limit := rate.Inf
	if cfg.NodeRequestsPerSecond > 0 {
		limit = rate.Limit(cfg.NodeRequestsPerSecond)
	}
	burst := cfg.NodeBurst
	if burst <= 0 {
		burst = 1
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	n := &NodeClient{
		baseURL:  strings.TrimRight(cfg.NodeURL, "/"),
		contract: cfg,
		http:     httpClient,
		limiter:  rate.NewLimiter(limit, burst),
		metrics:  m,
		tracer:   tracer.Tracer("gateway"),
		log:      log,
	}
	n.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "stacks-node",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.BreakerState.WithLabelValues(name).Set(float64(to))
			log.Warn("node circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return n
}

// CallReadOnly evaluates a read-only contract function as sender.
func (n *NodeClient) CallReadOnly(ctx context.Context, sender domain.Principal, function string, args []string) (clarity.Value, error) {
	ctx, span := n.tracer.Start(ctx, "node.call-read",
		trace.WithAttributes(
			attribute.String("contract.id", n.contract.ContractID()),
			attribute.String("contract.function", function),
		))
	defer span.End()

	body, err := json.Marshal(readOnlyRequest{Sender: sender.String(), Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("encoding read-only call: %w", err)
	}
	path := fmt.Sprintf("/v2/contracts/call-read/%s/%s/%s",
		url.PathEscape(n.contract.Address), url.PathEscape(n.contract.Name), url.PathEscape(function))

	resp, err := n.do(ctx, http.MethodPost, path, body)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := nodeStatusError(resp)
		recordSpanError(span, err)
		return nil, err
	}

	var out readOnlyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		err = fmt.Errorf("%w: read-only response for %s: %v", domain.ErrDecode, function, err)
		recordSpanError(span, err)
		return nil, err
	}
	if !out.Okay {
		err := readOnlyFailure(function, out.Cause)
		recordSpanError(span, err)
		return nil, err
	}

	v, err := clarity.DecodeHex(out.Result)
	if err != nil {
		err = fmt.Errorf("%w: result of %s: %v", domain.ErrDecode, function, err)
		recordSpanError(span, err)
		return nil, err
	}
	return v, nil
}

// TxStatus fetches the node's view of a transaction. errTxNotIndexed means pending.
func (n *NodeClient) TxStatus(ctx context.Context, txID string) (*TxStatus, error) {
	ctx, span := n.tracer.Start(ctx, "node.tx-status", trace.WithAttributes(attribute.String("tx.id", txID)))
	defer span.End()

	resp, err := n.do(ctx, http.MethodGet, "/extended/v1/tx/"+url.PathEscape(txID), nil)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, errTxNotIndexed
	default:
		err := nodeStatusError(resp)
		recordSpanError(span, err)
		return nil, err
	}

	var st TxStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("%w: tx status %s: %v", domain.ErrDecode, txID, err)
	}
	span.SetAttributes(attribute.String("tx.status", st.Status))
	return &st, nil
}

func (n *NodeClient) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, transportError(method, path, err)
	}

	resp, err := n.breaker.Execute(func() (*http.Response, error) {
		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, n.baseURL+path, rdr)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := n.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			err := nodeStatusError(resp)
			resp.Body.Close()
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: stacks node circuit open: %v", domain.ErrNetworkFailure, err)
		}
		return nil, transportError(method, path, err)
	}
	return resp, nil
}

func transportError(method, path string, err error) error {
	switch {
	case errors.Is(err, domain.ErrNetworkFailure):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s %s: %v", domain.ErrTimeout, method, path, err)
	}
	return fmt.Errorf("%w: %s %s: %v", domain.ErrNetworkFailure, method, path, err)
}

func nodeStatusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	text := strings.TrimSpace(string(msg))
	if resp.StatusCode == http.StatusBadRequest {
		return fmt.Errorf("%w: node rejected request: %s", domain.ErrInvalidInput, text)
	}
	return fmt.Errorf("%w: node status %d: %s", domain.ErrNetworkFailure, resp.StatusCode, text)
}

// readOnlyFailure maps okay=false. Analysis-time failures mean our arguments do not
// match the declared parameter types.
func readOnlyFailure(function, cause string) error {
	if strings.Contains(cause, "Unchecked") || strings.Contains(cause, "TypeValueError") {
		return fmt.Errorf("%w: %s: %s", domain.ErrInvalidInput, function, cause)
	}
	return fmt.Errorf("%w: %s: %s", domain.ErrNetworkFailure, function, cause)
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, domain.Kind(err))
}
