package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vtuplug/vtuplug/internal/config"
)

// SMEPlug talks to an SMEPlug-compatible VTU aggregator. The HTTP client is
// built lazily from configuration and cached for the life of the process.
type SMEPlug struct {
	cfg config.ProviderConfig

	mu   sync.Mutex
	http *http.Client
}

// NewSMEPlug constructs the aggregator client.
func NewSMEPlug(cfg config.ProviderConfig) *SMEPlug {
	return &SMEPlug{cfg: cfg}
}

type envelope struct {
	Status  *bool           `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type purchaseBody struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

func (s *SMEPlug) client() (*http.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return s.http, nil
	}
	if s.cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider base url not configured")
	}
	if s.cfg.APIKey == "" {
		return nil, fmt.Errorf("provider api key not configured")
	}
	s.http = &http.Client{Timeout: s.cfg.Timeout}
	return s.http, nil
}

// AccountBalance returns the aggregator float balance in naira.
func (s *SMEPlug) AccountBalance(ctx context.Context) (decimal.Decimal, error) {
	data, err := s.get(ctx, "/v1/account/balance")
	if err != nil {
		return decimal.Zero, err
	}
	var body struct {
		Balance decimal.Decimal `json:"balance"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return decimal.Zero, fmt.Errorf("decode balance: %w", err)
	}
	return body.Balance, nil
}

// Networks lists the operators available for airtime and data.
func (s *SMEPlug) Networks(ctx context.Context) ([]Network, error) {
	data, err := s.get(ctx, "/v1/networks")
	if err != nil {
		return nil, err
	}
	var networks []Network
	if err := json.Unmarshal(data, &networks); err != nil {
		return nil, fmt.Errorf("decode networks: %w", err)
	}
	return networks, nil
}

// DataPlans lists purchasable data bundles across networks.
func (s *SMEPlug) DataPlans(ctx context.Context) ([]DataPlan, error) {
	data, err := s.get(ctx, "/v1/data/plans")
	if err != nil {
		return nil, err
	}
	var plans []DataPlan
	if err := json.Unmarshal(data, &plans); err != nil {
		return nil, fmt.Errorf("decode data plans: %w", err)
	}
	return plans, nil
}

// PurchaseAirtime submits an airtime purchase.
func (s *SMEPlug) PurchaseAirtime(ctx context.Context, in AirtimePurchase) (Outcome, error) {
	return s.purchase(ctx, "/v1/airtime/purchase", map[string]any{
		"network_id":         in.NetworkID,
		"amount":             naira(in.Amount),
		"phone":              in.Phone,
		"customer_reference": in.Reference,
	})
}

// PurchaseData submits a data bundle purchase.
func (s *SMEPlug) PurchaseData(ctx context.Context, in DataPurchase) (Outcome, error) {
	return s.purchase(ctx, "/v1/data/purchase", map[string]any{
		"network_id":         in.NetworkID,
		"plan_id":            in.PlanID,
		"phone":              in.Phone,
		"customer_reference": in.Reference,
	})
}

// PayBill submits a bill payment.
func (s *SMEPlug) PayBill(ctx context.Context, in BillPayment) (Outcome, error) {
	return s.purchase(ctx, "/v1/bills/pay", map[string]any{
		"biller_code":        in.BillerCode,
		"customer":           in.Customer,
		"amount":             naira(in.Amount),
		"customer_reference": in.Reference,
	})
}

// TransactionStatus queries the provider's record for a customer reference.
// Transport failures are returned as errors so the sweep retries later.
func (s *SMEPlug) TransactionStatus(ctx context.Context, reference string) (TransactionStatus, error) {
	client, err := s.client()
	if err != nil {
		return TransactionStatus{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimSuffix(s.cfg.BaseURL, "/")+"/v1/transactions/"+url.PathEscape(reference), nil)
	if err != nil {
		return TransactionStatus{}, err
	}
	s.authorize(req)

	resp, err := client.Do(req)
	if err != nil {
		return TransactionStatus{}, fmt.Errorf("status query: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return TransactionStatus{}, fmt.Errorf("status query read: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return TransactionStatus{State: TxUnknown, Reference: reference, Raw: raw}, nil
	}
	if resp.StatusCode >= 500 {
		return TransactionStatus{}, fmt.Errorf("status query: provider returned %d", resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return TransactionStatus{}, fmt.Errorf("status query decode: %w", err)
	}
	var body purchaseBody
	if err := json.Unmarshal(env.Data, &body); err != nil {
		return TransactionStatus{}, fmt.Errorf("status query decode: %w", err)
	}

	ts := TransactionStatus{Reference: body.Reference, Raw: raw}
	switch strings.ToLower(body.Status) {
	case "success", "successful", "delivered":
		ts.State = TxSuccess
	case "failed", "reversed":
		ts.State = TxFailed
	case "pending", "processing":
		ts.State = TxPending
	default:
		ts.State = TxUnknown
	}
	return ts, nil
}

// purchase performs the one-shot submission. Errors after the wire was
// touched are mapped to an ambiguous outcome, never retried here.
func (s *SMEPlug) purchase(ctx context.Context, path string, payload map[string]any) (Outcome, error) {
	client, err := s.client()
	if err != nil {
		return Outcome{}, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(s.cfg.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, err
	}
	s.authorize(req)

	resp, err := client.Do(req)
	if err != nil {
		// Timeout or transport failure: the provider may have received and
		// fulfilled the request. Never assume failure.
		return Outcome{Status: OutcomeAmbiguous, Reason: err.Error()}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{Status: OutcomeAmbiguous, Reason: err.Error()}, nil
	}

	switch {
	case resp.StatusCode >= 500:
		return Outcome{Status: OutcomeAmbiguous, Reason: fmt.Sprintf("provider returned %d", resp.StatusCode), Raw: raw}, nil
	case resp.StatusCode >= 400:
		return Outcome{Status: OutcomeRejected, Reason: rejectionReason(raw, resp.StatusCode), Raw: raw}, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Outcome{Status: OutcomeAmbiguous, Reason: "malformed provider response", Raw: raw}, nil
	}
	var result purchaseBody
	if err := json.Unmarshal(env.Data, &result); err != nil {
		return Outcome{Status: OutcomeAmbiguous, Reason: "malformed provider response", Raw: raw}, nil
	}

	switch strings.ToLower(result.Status) {
	case "success", "successful", "delivered":
		return Outcome{Status: OutcomeSuccess, Reference: result.Reference, Raw: raw}, nil
	case "failed", "rejected":
		reason := result.Message
		if reason == "" {
			reason = env.Message
		}
		return Outcome{Status: OutcomeRejected, Reference: result.Reference, Reason: reason, Raw: raw}, nil
	default:
		// Accepted but not final ("pending" and friends): ambiguous until the
		// status query settles it.
		return Outcome{Status: OutcomeAmbiguous, Reference: result.Reference, Reason: "provider reported " + result.Status, Raw: raw}, nil
	}
}

func (s *SMEPlug) authorize(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
}

func (s *SMEPlug) get(ctx context.Context, path string) (json.RawMessage, error) {
	client, err := s.client()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(s.cfg.BaseURL, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	s.authorize(req)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("provider returned %d for %s", resp.StatusCode, path)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return env.Data, nil
}

func rejectionReason(raw []byte, status int) string {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Message != "" {
		return env.Message
	}
	return fmt.Sprintf("provider returned %d", status)
}

// naira converts kobo to the naira amount the wire format expects.
func naira(kobo int64) decimal.Decimal {
	return decimal.NewFromInt(kobo).Div(decimal.NewFromInt(100))
}
