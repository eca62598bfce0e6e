package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-builders/knock-backend/internal/domain/contest"
)

func TestWriteWinners(t *testing.T) {
	loc := time.FixedZone("CDT", -5*3600)
	da := "Spooky-Artist"
	wins := []contest.Winner{
		{KnockEventID: 1, UserID: "200", CreatedAt: time.Date(2026, 10, 15, 18, 30, 0, 0, time.UTC), PrizeID: "candy", PrizeName: "Candy Corn", DeviantArtName: &da},
		{KnockEventID: 4, UserID: "300", CreatedAt: time.Date(2026, 10, 16, 2, 0, 0, 0, time.UTC), PrizeID: "myo-common"},
	}

	var buf bytes.Buffer
	require.NoError(t, writeWinners(&buf, wins, loc))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "#"))
	assert.Contains(t, lines[1], "10/15/2026, 01:30:00 PM CDT")
	assert.Contains(t, lines[1], "Candy Corn (candy)")
	assert.Contains(t, lines[1], "Spooky-Artist")
	assert.Contains(t, lines[2], "10/15/2026, 09:00:00 PM CDT")
	assert.Contains(t, lines[2], "myo-common")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(lines[2]), "-"))
}
