package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsAppErrorThroughWrapping(t *testing.T) {
	base := NewTooManyKnocksError(2, 6, time.Date(2021, 10, 30, 6, 0, 0, 0, time.UTC))
	wrapped := fmt.Errorf("knock: %w", base)

	appErr, ok := AsAppError(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrCodeTooManyKnocks, appErr.Code)
	assert.Equal(t, 2, appErr.Detail("knocks_per_day"))
	assert.True(t, HasCode(wrapped, ErrCodeTooManyKnocks))
	assert.False(t, HasCode(wrapped, ErrCodeRateLimited))
}

func TestClassification(t *testing.T) {
	cases := []struct {
		err            *AppError
		userFacing     bool
		infrastructure bool
	}{
		{NewEventNotStartedError(nil, nil), true, false},
		{NewRateLimitedError("one per reset"), true, false},
		{NewOutOfPrizesError("1"), true, false},
		{NewDatabaseError("insert", fmt.Errorf("boom")), false, true},
		{NewQueueError("xadd", fmt.Errorf("boom")), false, true},
		{New(ErrCodeInternal, "?"), false, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.err.Code), func(t *testing.T) {
			assert.Equal(t, tc.userFacing, tc.err.IsUserFacing())
			assert.Equal(t, tc.infrastructure, tc.err.IsInfrastructure())
		})
	}
}

func TestErrorStringIncludesCause(t *testing.T) {
	err := NewDatabaseError("count knocks", fmt.Errorf("connection refused"))
	assert.Equal(t, "[DATABASE_ERROR] Database operation failed: count knocks: connection refused", err.Error())
}
