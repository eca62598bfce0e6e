package postgres

import (
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&pq.Error{Code: "40001"}))
	assert.True(t, IsRetryable(fmt.Errorf("commit: %w", &pq.Error{Code: "40P01"})))
	assert.False(t, IsRetryable(&pq.Error{Code: "23505"}))
	assert.False(t, IsRetryable(fmt.Errorf("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(nil))
}

func TestNullHelpers(t *testing.T) {
	assert.False(t, nullString(nil).Valid)
	s := "candy"
	ns := nullString(&s)
	assert.True(t, ns.Valid)
	assert.Equal(t, "candy", ns.String)
	assert.False(t, nullTime(nil).Valid)
}
