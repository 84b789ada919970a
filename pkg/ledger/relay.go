package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// RelayClient talks to the operator's signing relay: a sidecar that
// holds the flora key shares and performs the actual ledger
// transactions. It covers the submit/create half of Client; reads go
// through the mirror.
type RelayClient struct {
	baseURL string
	http    *http.Client
}

// NewRelayClient builds a client for the relay at baseURL.
func NewRelayClient(baseURL string) *RelayClient {
	return &RelayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type relaySubmitRequest struct {
	Payload        string `json:"payload"`
	PayerAccountID string `json:"payer_account_id"`
}

type relaySubmitResponse struct {
	ConsensusTimestamp string `json:"consensus_timestamp"`
	SequenceNumber     int64  `json:"sequence_number"`
}

// SubmitMessage submits payload to a topic, paying from payerAccountID.
func (c *RelayClient) SubmitMessage(ctx context.Context, topicID string, payload []byte, payerAccountID string) (*SubmitReceipt, error) {
	req := relaySubmitRequest{
		Payload:        base64.StdEncoding.EncodeToString(payload),
		PayerAccountID: payerAccountID,
	}
	var resp relaySubmitResponse
	endpoint := fmt.Sprintf("%s/topics/%s/messages", c.baseURL, topicID)
	if err := c.postJSON(ctx, endpoint, req, &resp); err != nil {
		return nil, fmt.Errorf("ledger: submit to %s: %w", topicID, err)
	}
	return &SubmitReceipt{
		TopicID:            topicID,
		ConsensusTimestamp: resp.ConsensusTimestamp,
		SequenceNumber:     resp.SequenceNumber,
	}, nil
}

// CreateTopic provisions a topic through the relay.
func (c *RelayClient) CreateTopic(ctx context.Context, memo string) (string, error) {
	var resp struct {
		TopicID string `json:"topic_id"`
	}
	if err := c.postJSON(ctx, c.baseURL+"/topics", map[string]string{"memo": memo}, &resp); err != nil {
		return "", fmt.Errorf("ledger: create topic: %w", err)
	}
	if resp.TopicID == "" {
		return "", fmt.Errorf("ledger: relay returned empty topic id")
	}
	return resp.TopicID, nil
}

func (c *RelayClient) postJSON(ctx context.Context, endpoint string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("relay returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
