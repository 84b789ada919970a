// Package ledger defines the narrow interfaces the oracle needs from the
// underlying consensus ledger: topic creation, message submission, and
// mirror-node reads. This package ships the mirror REST reader and a
// client for the operator's signing relay, which performs submission and
// topic creation.
package ledger

import "context"

// TopicMessage is one decoded message read from a topic's mirror stream.
type TopicMessage struct {
	TopicID            string
	ConsensusTimestamp string
	SequenceNumber     int64
	Contents           []byte
}

// AccountKey is an account's public key as reported by the mirror.
type AccountKey struct {
	AccountID string
	KeyType   string
	PublicKey string
}

// Query filters a topic message read.
type Query struct {
	// Order is "asc" or "desc".
	Order string
	// Limit caps the number of returned messages.
	Limit int
	// AfterTimestamp, when set, restricts to timestamp=gt:<ts>.
	AfterTimestamp string
}

// Reader reads topic messages and account keys from a mirror node.
type Reader interface {
	TopicMessages(ctx context.Context, topicID string, q Query) ([]TopicMessage, error)
	AccountKey(ctx context.Context, accountID string) (*AccountKey, error)
}

// SubmitReceipt reports where a submitted message landed.
type SubmitReceipt struct {
	TopicID            string
	ConsensusTimestamp string
	SequenceNumber     int64
}

// Submitter submits a message to a topic, paying from the given account.
// The payer must hold a key share valid for the topic's submit key.
type Submitter interface {
	SubmitMessage(ctx context.Context, topicID string, payload []byte, payerAccountID string) (*SubmitReceipt, error)
}

// TopicAdmin provisions topics during registry bootstrap.
type TopicAdmin interface {
	CreateTopic(ctx context.Context, memo string) (string, error)
}

// Client bundles everything the consumer wires together.
type Client interface {
	Reader
	Submitter
	TopicAdmin
}
