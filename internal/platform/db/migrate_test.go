package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsOrdered(t *testing.T) {
	ms, err := Migrations()
	require.NoError(t, err)
	require.Len(t, ms, 5)
	for i := 1; i < len(ms); i++ {
		assert.Less(t, ms[i-1].Version, ms[i].Version)
	}
	assert.Equal(t, "0001_guild_settings", ms[0].Version)
	assert.Contains(t, ms[2].SQL, "knock_events_pending_without_prize")
	assert.Contains(t, ms[3].SQL, "knock_event_id BIGINT UNIQUE")
	assert.Equal(t, "0005_deviantart_users", ms[4].Version)
	assert.Contains(t, ms[4].SQL, "PRIMARY KEY (guild_id, user_id)")
}
