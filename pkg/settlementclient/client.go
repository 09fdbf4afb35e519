/**
 * @description
 * This package provides a client for the settlement relay, the HTTP front of the
 * network that records recycling transactions. It builds the unsigned payload for a
 * submission, relays externally signed payloads, and polls transaction status.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 * - golang.org/x/crypto/blake2b: payload handle digests.
 */
package settlementclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/recyclr/rewards-service/internal/domain"
)

// Client is a client for the settlement relay API.
type Client struct {
	BaseURL         string
	APIKey          string
	Network         string
	ContractAddress string
	HTTPClient      *http.Client

	supported map[string]struct{}
}

// NewClient creates a new settlement relay client.
func NewClient(baseURL, apiKey, network, contractAddress string) *Client {
	return &Client{
		BaseURL:         strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		APIKey:          apiKey,
		Network:         network,
		ContractAddress: contractAddress,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithSupportedItemTypes restricts BuildPayload to the item types the contract can record.
func (c *Client) WithSupportedItemTypes(itemTypes []string) *Client {
	c.supported = make(map[string]struct{}, len(itemTypes))
	for _, itemType := range itemTypes {
		c.supported[strings.ToLower(strings.TrimSpace(itemType))] = struct{}{}
	}
	return c
}

// SubmitRequest is the payload relayed to the network.
type SubmitRequest struct {
	SignedPayload string `json:"signed_payload"`
	Network       string `json:"network,omitempty"`
}

// TransactionResponse is returned by both the submit and the status endpoints.
type TransactionResponse struct {
	Data struct {
		TxHash        string `json:"tx_hash"`
		Status        string `json:"status"`
		Confirmations int    `json:"confirmations"`
		Reason        string `json:"reason"`
	} `json:"data"`
}

// ErrorItem is one entry of an error response.
type ErrorItem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Status string `json:"status"`
}

// ErrorResponse represents an error from the settlement relay.
type ErrorResponse struct {
	Errors []ErrorItem `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("settlement api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown settlement api error"
}

// IsExplicitRejection reports whether the network refused the transaction outright,
// as opposed to an outage or a malformed exchange that may succeed on retry.
func (e *ErrorResponse) IsExplicitRejection() bool {
	for _, item := range e.Errors {
		switch strings.TrimSpace(item.Status) {
		case "400", "409", "422":
			return true
		}
		switch strings.ToLower(strings.TrimSpace(item.Title)) {
		case "transaction_rejected", "transaction_failed", "invalid_signature", "script_failure":
			return true
		}
	}
	return false
}

// RejectionReason returns the most specific text the relay gave for a refusal.
func (e *ErrorResponse) RejectionReason() string {
	if detail := firstErrorDetail(*e); detail != "" {
		return detail
	}
	if title := firstErrorTitle(*e); title != "" {
		return title
	}
	return "rejected"
}

func rejection(title, detail string) *ErrorResponse {
	return &ErrorResponse{Errors: []ErrorItem{{Title: title, Detail: detail, Status: "422"}}}
}

// Submit relays a signed payload. A refusal by the network is reported through
// SettlementResult.Success=false; a returned error means the outcome is unknown.
func (c *Client) Submit(ctx context.Context, signedPayload string) (*domain.SettlementResult, error) {
	resp, err := c.do(ctx, "submit", http.MethodPost, "/api/v1/transactions", SubmitRequest{
		SignedPayload: signedPayload,
		Network:       c.Network,
	})
	if err != nil {
		var errResp *ErrorResponse
		if errors.As(err, &errResp) && errResp.IsExplicitRejection() {
			return &domain.SettlementResult{Success: false, Error: errResp.RejectionReason()}, nil
		}
		return nil, err
	}

	if strings.TrimSpace(resp.Data.TxHash) == "" {
		return nil, fmt.Errorf("settlement relay accepted the payload without a transaction hash")
	}
	if isRejectedStatus(resp.Data.Status) {
		return &domain.SettlementResult{
			Handle:  domain.SettlementHandle(resp.Data.TxHash),
			Success: false,
			Error:   nonEmpty(resp.Data.Reason, resp.Data.Status),
		}, nil
	}
	return &domain.SettlementResult{Handle: domain.SettlementHandle(resp.Data.TxHash), Success: true}, nil
}

// Verify reports whether the transaction behind handle is confirmed. It returns false
// while the transaction is unknown or pending, and an *ErrorResponse with
// IsExplicitRejection()==true when the network rejected it.
func (c *Client) Verify(ctx context.Context, handle domain.SettlementHandle) (bool, error) {
	if strings.TrimSpace(handle.String()) == "" {
		return false, fmt.Errorf("settlement handle is required")
	}

	resp, err := c.do(ctx, "verify", http.MethodGet, "/api/v1/transactions/"+url.PathEscape(handle.String()), nil)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}

	status := strings.ToLower(strings.TrimSpace(resp.Data.Status))
	switch {
	case status == "confirmed" || status == "settled" || status == "success":
		return true, nil
	case isRejectedStatus(status):
		return false, rejection("transaction_rejected", nonEmpty(resp.Data.Reason, status))
	default:
		return false, nil
	}
}

type notFoundError struct{ op string }

func (e *notFoundError) Error() string { return fmt.Sprintf("settlement %s: not found", e.op) }

func isNotFound(err error) bool {
	var nf *notFoundError
	return errors.As(err, &nf)
}

// do is a generic helper to execute relay requests.
func (c *Client) do(ctx context.Context, op, method, path string, payload interface{}) (*TransactionResponse, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("x-api-key", c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode == http.StatusNotFound && op == "verify" {
		return nil, &notFoundError{op: op}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil || len(errResp.Errors) == 0 {
			log.Printf("level=warn component=settlement_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		// 5xx bodies never count as a refusal, whatever their titles say.
		if resp.StatusCode >= 500 {
			log.Printf("level=warn component=settlement_client op=%s status=%d title=%q detail=%q", op, resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
			return nil, fmt.Errorf("settlement relay unavailable (status %d): %s", resp.StatusCode, errResp.Error())
		}
		log.Printf("level=warn component=settlement_client op=%s status=%d title=%q detail=%q", op, resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
		return nil, &errResp
	}

	var successResp TransactionResponse
	if err := json.Unmarshal(bodyBytes, &successResp); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return &successResp, nil
}

func isRejectedStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "rejected", "failed", "invalid", "dropped":
		return true
	default:
		return false
	}
}

func nonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstErrorTitle(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Title
}

func firstErrorDetail(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Detail
}
