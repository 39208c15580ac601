package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesCode(t *testing.T) {
	err := NewJobAlreadyRunning()
	assert.True(t, Is(err, ErrJobAlreadyRunning))
	assert.False(t, Is(err, ErrNotFound))
	assert.False(t, Is(nil, ErrNotFound))
	assert.False(t, Is(fmt.Errorf("plain"), ErrInternal))
}

func TestIsSeesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("while starting: %w", NewSourceAuth(fmt.Errorf("401")))
	assert.True(t, Is(err, ErrSourceAuth))
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := NewCacheWrite("ingest/m1_a1.png", cause)
	assert.True(t, stderrors.Is(err, cause))
	assert.Contains(t, err.Error(), "CACHE_WRITE")
}

func TestDetailsCarryContext(t *testing.T) {
	err := NewDanglingReference([]string{"m1", "m2"})
	assert.Equal(t, []string{"m1", "m2"}, err.Details["message_ids"])

	nf := NewNotFound("showcase", "sc1")
	assert.Equal(t, "showcase", nf.Details["kind"])
	assert.Equal(t, "sc1", nf.Details["id"])
}
