package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_LinearThenCapped(t *testing.T) {
	p := Policy{BaseMs: 5000, MaxMs: 120000}
	assert.Equal(t, 5*time.Second, Backoff("epoch-1", 1, p))
	assert.Equal(t, 10*time.Second, Backoff("epoch-1", 2, p))
	assert.Equal(t, 120*time.Second, Backoff("epoch-1", 40, p))
}

func TestBackoff_DeterministicJitter(t *testing.T) {
	a := Backoff("epoch-9", 3, PublishPolicy)
	b := Backoff("epoch-9", 3, PublishPolicy)
	assert.Equal(t, a, b)

	base := time.Duration(PublishPolicy.BaseMs*3) * time.Millisecond
	assert.GreaterOrEqual(t, a, base)
	assert.Less(t, a, base+time.Duration(PublishPolicy.MaxJitterMs)*time.Millisecond)
}
