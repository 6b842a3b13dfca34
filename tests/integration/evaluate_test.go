//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel rule
// evaluation engine.
//
// These tests verify the COMPLETE evaluation pipeline:
//
//	Transaction → Enrichment → Rules → Composite Score → Tier → Alert
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. TRANSACTION: A monetary movement on an account (deposit, withdrawal,
//    wire transfer), identified by account and counterparty.
//
// 2. RULE: A detection check instantiated from a persisted definition. Each
//    rule produces a raw score in [0,1] and carries a weight used when
//    aggregating into the composite.
//
// 3. COMPOSITE SCORE: Sum of (raw score x weight) over matched rules,
//    clamped to 1.0, then mapped to a tier:
//   - Score < 0.2         → none
//   - Score 0.2 - 0.5     → low
//   - Score 0.5 - 0.7     → medium
//   - Score 0.7+          → high
//
// 4. ALERT: Opened automatically when the tier meets the configured cutoff
//    (medium by default). Alerts move through a review workflow:
//    NEW → UNDER_REVIEW → {ESCALATED, CLOSED}, ESCALATED → {SAR_FILED, CLOSED}.
//
// REQUIRED RULES (must be seeded via API before running tests):
//
// | Rule ID          | Type        | Params                       | Weight |
// |------------------|-------------|------------------------------|--------|
// | large-cash-001   | large_cash  | amount_threshold: 10000      | 0.6    |
// | velocity-001     | velocity    | count_threshold: 10          | 0.3    |
//
// Seed via POST /rules followed by POST /rules/reload.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{BaseURL: baseURL}
}

// ============================================================================
// API Request/Response Types (matching Kestrel's API contract)
// ============================================================================

// EvaluateRequest is the transaction sent to POST /evaluate
type EvaluateRequest struct {
	AccountID    string         `json:"accountId"`
	Amount       float64        `json:"amount"`
	Currency     string         `json:"currency"`
	Type         string         `json:"type"`
	Counterparty string         `json:"counterparty,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// EvaluateResponse is what POST /evaluate returns
type EvaluateResponse struct {
	EvaluationID string           `json:"evaluationId"`
	TxID         string           `json:"txId"`
	Score        float64          `json:"score"`
	Tier         string           `json:"tier"`
	AlertID      string           `json:"alertId,omitempty"`
	RuleResults  []RuleResult     `json:"ruleResults"`
	Metadata     ResponseMetadata `json:"metadata"`
}

type RuleResult struct {
	RuleID  string  `json:"ruleId"`
	Matched bool    `json:"matched"`
	Score   float64 `json:"score"`
	Reason  string  `json:"reason,omitempty"`
}

type ResponseMetadata struct {
	TraceID        string `json:"traceId"`
	EnrichMs       int64  `json:"enrichMs"`
	RulesMs        int64  `json:"rulesMs"`
	TotalMs        int64  `json:"totalMs"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	CacheHits      int    `json:"cacheHits"`
	EngineVersion  string `json:"engineVersion"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func evaluate(t *testing.T, config TestConfig, req EvaluateRequest) EvaluateResponse {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequest("POST", config.BaseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(respBody))
	}

	var result EvaluateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
	}

	return result
}

func post(t *testing.T, config TestConfig, path string, payload any) (*http.Response, []byte) {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	resp, err := http.Post(config.BaseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	return resp, respBody
}

// ============================================================================
// SCENARIO 1: Normal Transaction (No Alert)
// ============================================================================

func TestNormalTransaction_NoAlert(t *testing.T) {
	/*
	   SCENARIO: A regular $500 deposit on a fresh account

	   EXPECTED BEHAVIOR:
	   - large-cash-001: $500 < $10,000 → no match
	   - velocity-001: no history → no match

	   FINAL DECISION: composite score 0.0, tier none, no alert
	*/
	config := getTestConfig()

	req := EvaluateRequest{
		AccountID:    "acc-normal-001",
		Amount:       500.00,
		Currency:     "USD",
		Type:         "cash_deposit",
		Counterparty: "branch-001",
	}

	result := evaluate(t, config, req)

	if result.Tier != "none" {
		t.Errorf("Expected tier none, got %s", result.Tier)
	}
	if result.Score != 0 {
		t.Errorf("Expected zero score, got %.2f", result.Score)
	}
	if result.AlertID != "" {
		t.Errorf("Expected no alert, got %s", result.AlertID)
	}

	t.Logf("✓ Normal transaction passed: tier=%s, score=%.2f", result.Tier, result.Score)
}

// ============================================================================
// SCENARIO 2: Large Cash Withdrawal (Opens an Alert)
// ============================================================================

func TestLargeCashWithdrawal_OpensAlert(t *testing.T) {
	/*
	   SCENARIO: A $15,000 cash withdrawal

	   EXPECTED BEHAVIOR:
	   - large-cash-001 matches with raw score 1.0
	   - Contribution: 1.0 x 0.6 = 0.6 → tier medium
	   - Medium meets the default alert cutoff → alert opened in NEW
	*/
	config := getTestConfig()

	req := EvaluateRequest{
		AccountID:    "acc-largecash-001",
		Amount:       15000.00,
		Currency:     "USD",
		Type:         "cash_withdrawal",
		Counterparty: "branch-002",
	}

	result := evaluate(t, config, req)

	if result.Score < 0.5 {
		t.Errorf("Expected score >= 0.5, got %.2f", result.Score)
	}
	if result.Tier != "medium" && result.Tier != "high" {
		t.Errorf("Expected at least medium tier, got %s", result.Tier)
	}
	if result.AlertID == "" {
		t.Fatal("Expected an alert to be opened")
	}

	t.Logf("✓ Large cash alerted: tier=%s, score=%.2f, alert=%s",
		result.Tier, result.Score, result.AlertID)
}

// ============================================================================
// SCENARIO 3: Threshold Boundary Testing (Exact $10,000)
// ============================================================================

func TestExactThreshold_RuleFires(t *testing.T) {
	/*
	   SCENARIO: Transaction of exactly $10,000

	   EXPECTED BEHAVIOR:
	   - The large_cash check is inclusive: amount >= threshold matches.
	   - $10,000 exactly fires the rule.

	   WHY THIS TEST:
	   Boundary conditions catch off-by-one errors in threshold logic.
	*/
	config := getTestConfig()

	at := evaluate(t, config, EvaluateRequest{
		AccountID: "acc-boundary-001",
		Amount:    10000.00,
		Currency:  "USD",
		Type:      "cash_deposit",
	})
	if at.Score <= 0 {
		t.Errorf("Expected rule to fire at exactly $10,000, got score %.2f", at.Score)
	}

	below := evaluate(t, config, EvaluateRequest{
		AccountID: "acc-boundary-002",
		Amount:    9999.99,
		Currency:  "USD",
		Type:      "cash_deposit",
	})
	if below.Score != 0 {
		t.Errorf("Expected no match just below threshold, got score %.2f", below.Score)
	}

	t.Logf("✓ Boundary test passed: $10,000 → %.2f, $9,999.99 → %.2f", at.Score, below.Score)
}

// ============================================================================
// SCENARIO 4: Velocity Burst (Compound Risk)
// ============================================================================

func TestVelocityBurst_CompoundRisk(t *testing.T) {
	/*
	   SCENARIO: Many transactions in quick succession on one account,
	   finishing with a large cash withdrawal.

	   EXPECTED BEHAVIOR:
	   - Each transaction is persisted, so the enricher's recent-window count
	     climbs with every call.
	   - Once the count crosses velocity-001's threshold the rule matches.
	   - The final large withdrawal compounds: large_cash (0.6) plus velocity
	     contribution pushes the composite toward high.
	*/
	config := getTestConfig()
	account := fmt.Sprintf("acc-burst-%d", time.Now().UnixNano())

	for i := 0; i < 12; i++ {
		evaluate(t, config, EvaluateRequest{
			AccountID: account,
			Amount:    200.00,
			Currency:  "USD",
			Type:      "cash_deposit",
		})
	}

	result := evaluate(t, config, EvaluateRequest{
		AccountID: account,
		Amount:    20000.00,
		Currency:  "USD",
		Type:      "cash_withdrawal",
	})

	if result.Score < 0.7 {
		t.Errorf("Expected compound score >= 0.7, got %.2f", result.Score)
	}
	if result.AlertID == "" {
		t.Error("Expected compound risk to open an alert")
	}

	t.Logf("✓ Compound risk: tier=%s, score=%.2f", result.Tier, result.Score)
}

// ============================================================================
// SCENARIO 5: Alert Review Workflow
// ============================================================================

func TestAlertWorkflow(t *testing.T) {
	/*
	   SCENARIO: Walk an alert through review to closure, and verify an
	   illegal transition is rejected without mutating state.
	*/
	config := getTestConfig()

	result := evaluate(t, config, EvaluateRequest{
		AccountID: fmt.Sprintf("acc-workflow-%d", time.Now().UnixNano()),
		Amount:    50000.00,
		Currency:  "USD",
		Type:      "cash_withdrawal",
	})
	if result.AlertID == "" {
		t.Fatal("Expected an alert to drive the workflow test")
	}

	path := "/alerts/" + result.AlertID + "/transitions"

	// NEW → SAR_FILED is illegal
	resp, body := post(t, config, path, map[string]string{
		"to": "SAR_FILED", "actor": "analyst-1",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 for illegal transition, got %d: %s", resp.StatusCode, body)
	}

	// NEW → UNDER_REVIEW → CLOSED (false positive)
	resp, body = post(t, config, path, map[string]string{
		"to": "UNDER_REVIEW", "actor": "analyst-1", "reviewer": "analyst-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 for review transition, got %d: %s", resp.StatusCode, body)
	}

	resp, body = post(t, config, path, map[string]string{
		"to": "CLOSED", "actor": "analyst-1", "reason": "false_positive",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 for close transition, got %d: %s", resp.StatusCode, body)
	}

	t.Logf("✓ Alert workflow: NEW → UNDER_REVIEW → CLOSED, illegal step rejected")
}

// ============================================================================
// SCENARIO 6: Input Validation
// ============================================================================

func TestMissingAccountID_Error(t *testing.T) {
	config := getTestConfig()

	resp, body := post(t, config, "/evaluate", EvaluateRequest{
		Amount:   100,
		Currency: "USD",
		Type:     "cash_deposit",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing accountId, got %d: %s", resp.StatusCode, body)
	}

	t.Logf("✓ Validation test passed: missing accountId → HTTP %d", resp.StatusCode)
}

func TestZeroAmount_Error(t *testing.T) {
	config := getTestConfig()

	resp, body := post(t, config, "/evaluate", EvaluateRequest{
		AccountID: "acc-001",
		Amount:    0,
		Currency:  "USD",
		Type:      "cash_deposit",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for zero amount, got %d: %s", resp.StatusCode, body)
	}

	t.Logf("✓ Validation test passed: zero amount → HTTP %d", resp.StatusCode)
}

// ============================================================================
// SCENARIO 7: Response Metadata Verification
// ============================================================================

func TestResponseMetadata(t *testing.T) {
	/*
	   SCENARIO: Verify the response includes all required metadata.

	   This ensures the API contract is stable for clients.
	*/
	config := getTestConfig()

	result := evaluate(t, config, EvaluateRequest{
		AccountID: "acc-metadata-001",
		Amount:    100,
		Currency:  "USD",
		Type:      "cash_deposit",
	})

	if result.EvaluationID == "" {
		t.Error("Missing evaluationId")
	}
	if result.TxID == "" {
		t.Error("Missing txId")
	}
	if result.Score < 0 || result.Score > 1 {
		t.Errorf("Score out of range: %.2f (expected 0-1)", result.Score)
	}
	if result.Tier == "" {
		t.Error("Missing tier")
	}
	if result.Metadata.EngineVersion == "" {
		t.Error("Missing metadata.engineVersion")
	}
	if result.Metadata.RulesEvaluated != len(result.RuleResults) {
		t.Errorf("rulesEvaluated %d does not match %d rule results",
			result.Metadata.RulesEvaluated, len(result.RuleResults))
	}

	// Note: TotalMs can be 0 for very fast operations (sub-millisecond)
	if result.Metadata.TotalMs < 0 {
		t.Error("Invalid metadata.totalMs (negative)")
	}

	t.Logf("✓ Metadata complete: evalId=%s, txId=%s, version=%s, totalMs=%d",
		result.EvaluationID[:8], result.TxID[:8], result.Metadata.EngineVersion, result.Metadata.TotalMs)
}
