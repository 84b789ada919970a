package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MirrorClient reads topics and accounts over the mirror node REST API.
type MirrorClient struct {
	baseURL string
	http    *http.Client
}

// NewMirrorClient builds a client against e.g.
// "https://testnet.mirrornode.hedera.com".
func NewMirrorClient(baseURL string) *MirrorClient {
	return &MirrorClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

type mirrorMessage struct {
	ConsensusTimestamp string `json:"consensus_timestamp"`
	Message            string `json:"message"`
	SequenceNumber     int64  `json:"sequence_number"`
	TopicID            string `json:"topic_id"`
}

type mirrorMessagesPage struct {
	Messages []mirrorMessage `json:"messages"`
}

// TopicMessages lists messages on a topic, base64-decoding each body.
func (c *MirrorClient) TopicMessages(ctx context.Context, topicID string, q Query) ([]TopicMessage, error) {
	params := url.Values{}
	if q.Order != "" {
		params.Set("order", q.Order)
	}
	if q.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", q.Limit))
	}
	if q.AfterTimestamp != "" {
		params.Set("timestamp", "gt:"+q.AfterTimestamp)
	}
	endpoint := fmt.Sprintf("%s/api/v1/topics/%s/messages", c.baseURL, url.PathEscape(topicID))
	if enc := params.Encode(); enc != "" {
		endpoint += "?" + enc
	}

	var page mirrorMessagesPage
	if err := c.getJSON(ctx, endpoint, &page); err != nil {
		return nil, fmt.Errorf("ledger: topic %s messages: %w", topicID, err)
	}

	out := make([]TopicMessage, 0, len(page.Messages))
	for _, m := range page.Messages {
		contents, err := base64.StdEncoding.DecodeString(m.Message)
		if err != nil {
			// A topic can carry foreign messages; skip what we cannot decode.
			continue
		}
		out = append(out, TopicMessage{
			TopicID:            m.TopicID,
			ConsensusTimestamp: m.ConsensusTimestamp,
			SequenceNumber:     m.SequenceNumber,
			Contents:           contents,
		})
	}
	return out, nil
}

type mirrorAccount struct {
	Account string `json:"account"`
	Key     struct {
		Type string `json:"_type"`
		Key  string `json:"key"`
	} `json:"key"`
}

// AccountKey reads an account's public key and key type.
func (c *MirrorClient) AccountKey(ctx context.Context, accountID string) (*AccountKey, error) {
	endpoint := fmt.Sprintf("%s/api/v1/accounts/%s", c.baseURL, url.PathEscape(accountID))
	var acct mirrorAccount
	if err := c.getJSON(ctx, endpoint, &acct); err != nil {
		return nil, fmt.Errorf("ledger: account %s: %w", accountID, err)
	}
	return &AccountKey{
		AccountID: accountID,
		KeyType:   acct.Key.Type,
		PublicKey: acct.Key.Key,
	}, nil
}

func (c *MirrorClient) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mirror returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
