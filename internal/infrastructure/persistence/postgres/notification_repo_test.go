package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fibreflow/ticket-notify/internal/domain/notification"
)

func TestBuildListQuery_NoFilter(t *testing.T) {
	query, args := buildListQuery(notification.ListFilter{})

	assert.NotContains(t, query, "WHERE")
	assert.True(t, strings.HasSuffix(query, "ORDER BY created_at DESC"))
	assert.Empty(t, args)
}

func TestBuildListQuery_AllFilters(t *testing.T) {
	after := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	before := after.Add(24 * time.Hour)

	query, args := buildListQuery(notification.ListFilter{
		TicketID:       "8b0c7b9e-2f0e-4a57-9d1b-0f6a3c1f2e11",
		Statuses:       []notification.Status{notification.StatusSent, notification.StatusDelivered},
		RecipientTypes: []notification.RecipientType{notification.RecipientTechnician},
		SentAfter:      &after,
		SentBefore:     &before,
		Limit:          20,
		Offset:         40,
	})

	assert.Contains(t, query, "WHERE ticket_id = $1 AND status = ANY($2) AND recipient_type = ANY($3) AND sent_at >= $4 AND sent_at <= $5")
	assert.Contains(t, query, "ORDER BY created_at DESC LIMIT $6 OFFSET $7")
	assert.Equal(t, []interface{}{
		"8b0c7b9e-2f0e-4a57-9d1b-0f6a3c1f2e11",
		[]string{"sent", "delivered"},
		[]string{"technician"},
		after,
		before,
		20,
		40,
	}, args)
}

func TestBuildListQuery_FailedOnlyOverridesStatuses(t *testing.T) {
	query, args := buildListQuery(notification.ListFilter{
		Statuses:   []notification.Status{notification.StatusSent},
		FailedOnly: true,
	})

	assert.Contains(t, query, "WHERE status = ANY($1)")
	assert.Equal(t, []interface{}{[]string{"failed"}}, args)
}

func TestBuildStatsQuery_IgnoresPaging(t *testing.T) {
	query, args := buildStatsQuery(notification.ListFilter{TicketID: "t-1", Limit: 10, Offset: 5})

	assert.Equal(t, "SELECT status, COUNT(*) FROM whatsapp_notifications WHERE ticket_id = $1 GROUP BY status", query)
	assert.Equal(t, []interface{}{"t-1"}, args)
}

func TestNullString(t *testing.T) {
	assert.Nil(t, nullString(""))
	assert.Equal(t, "x", *nullString("x"))
	assert.Equal(t, "", deref(nil))
}

func TestMigrations_Ordered(t *testing.T) {
	migrations := Migrations()
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL)
		assert.NotEmpty(t, m.DownSQL)
	}
	assert.Contains(t, migrations[0].UpSQL, "CREATE TABLE IF NOT EXISTS whatsapp_notifications")
}

func TestConfig_PoolConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "postgres://notify:secret@db:5432/fibreflow?sslmode=disable"
	cfg.MaxConns = 7

	pc, err := cfg.PoolConfig()
	require.NoError(t, err)
	assert.EqualValues(t, 7, pc.MaxConns)
	assert.Equal(t, "db", pc.ConnConfig.Host)
	assert.Equal(t, "fibreflow", pc.ConnConfig.Database)

	cfg.URL = ""
	cfg.Host = "localhost"
	assert.Contains(t, cfg.DSN(), "host=localhost port=5432")
}
