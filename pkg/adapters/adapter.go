// Package adapters implements the off-chain price sources a petal
// samples each epoch, and the runner that fans out to all of them.
package adapters

import (
	"context"
	"fmt"
	"math"

	"github.com/floranet/petal-oracle/pkg/canonical"
	"github.com/floranet/petal-oracle/pkg/proof"
)

// Adapter produces one observation for the configured entity on demand.
type Adapter interface {
	ID() string
	Fetch(ctx context.Context) (*proof.AdapterRecord, error)
}

// newRecord assembles an AdapterRecord with its source fingerprint. The
// timestamp is left empty; the proof builder stamps the epoch timestamp.
func newRecord(adapterID, entityID, source string, price float64) (*proof.AdapterRecord, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return nil, fmt.Errorf("adapters: %s returned non-finite price", adapterID)
	}
	payload := map[string]interface{}{
		"price":  price,
		"source": source,
	}
	fp, err := canonical.Hash(payload)
	if err != nil {
		return nil, fmt.Errorf("adapters: %s fingerprint: %w", adapterID, err)
	}
	return &proof.AdapterRecord{
		AdapterID:         adapterID,
		EntityID:          entityID,
		Payload:           payload,
		SourceFingerprint: fp,
	}, nil
}
