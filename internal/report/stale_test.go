package report

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttani03/lan-ipam/internal/models"
)

func TestWriteStaleCSV(t *testing.T) {
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	subnet := models.Subnet{Name: "office", CIDR: "192.168.1.0/24"}
	allocs := []models.Allocation{
		{
			Address:     "192.168.1.20",
			Owner:       "alice",
			Hostname:    "nas",
			Description: "backup box\nrack 2 ",
			ClaimedAt:   now.Add(-45*24*time.Hour - time.Hour),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteStaleCSV(&buf, subnet, allocs, now))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, staleHeader, records[0])
	assert.Equal(t, []string{"office", "192.168.1.0/24", "192.168.1.20", "alice", "nas",
		"2026-02-14T11:00:00Z", "45", "backup box rack 2"}, records[1])
}

func TestWriteStaleCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteStaleCSV(&buf, models.Subnet{Name: "x"}, nil, time.Now()))
	assert.Equal(t, "subnet,cidr,ip,owner,hostname,claimed_at,age_days,description\n", buf.String())
}

func TestStaleCutoffAndFilename(t *testing.T) {
	now := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), StaleCutoff(now, 30))
	assert.Equal(t, "stale_office_30d.csv", StaleFilename(models.Subnet{Name: "office"}, 30))
}
