package subnets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttani03/lan-ipam/internal/database"
	"github.com/ttani03/lan-ipam/internal/database/dbtest"
	"github.com/ttani03/lan-ipam/internal/models"
)

func TestMain(m *testing.M) {
	dbtest.Run(m)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		in      Input
		wantErr bool
	}{
		{"ok", Input{Name: "lab", CIDR: "10.0.0.0/24", Gateway: "10.0.0.1", ExcludedIPs: "10.0.0.2, 10.0.0.3"}, false},
		{"missing name", Input{CIDR: "10.0.0.0/24"}, true},
		{"missing cidr", Input{Name: "lab"}, true},
		{"bad cidr", Input{Name: "lab", CIDR: "not-a-cidr"}, true},
		{"ipv6", Input{Name: "lab", CIDR: "2001:db8::/64"}, true},
		{"too broad", Input{Name: "lab", CIDR: "10.0.0.0/7"}, true},
		{"no hosts", Input{Name: "lab", CIDR: "10.0.0.0/31"}, true},
		{"gateway outside", Input{Name: "lab", CIDR: "10.0.0.0/24", Gateway: "10.0.1.1"}, true},
		{"gateway malformed", Input{Name: "lab", CIDR: "10.0.0.0/24", Gateway: "gw"}, true},
		{"exclusion malformed", Input{Name: "lab", CIDR: "10.0.0.0/24", ExcludedIPs: "10.0.0.5,x"}, true},
		{"exclusion outside", Input{Name: "lab", CIDR: "10.0.0.0/24", ExcludedIPs: "10.0.9.5"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_Normalizes(t *testing.T) {
	in, err := Validate(Input{Name: " lab ", CIDR: "192.168.1.77/24", Gateway: " 192.168.1.1 "})
	require.NoError(t, err)
	assert.Equal(t, "lab", in.Name)
	assert.Equal(t, "192.168.1.0/24", in.CIDR)
	assert.Equal(t, "192.168.1.1", in.Gateway)
}

func TestCreateGetList(t *testing.T) {
	dbtest.Clean(t)
	ctx := context.Background()

	s, err := Create(ctx, database.DB, Input{Name: "office", CIDR: "192.168.1.0/28", Gateway: "192.168.1.1", IsActive: true})
	require.NoError(t, err)
	assert.True(t, s.ID.Valid)
	assert.Equal(t, "192.168.1.1", s.GatewayString())

	_, err = Create(ctx, database.DB, Input{Name: "office", CIDR: "10.0.0.0/24", IsActive: true})
	assert.ErrorIs(t, err, ErrDuplicateName)

	_, err = Create(ctx, database.DB, Input{Name: "retired", CIDR: "10.0.0.0/24"})
	require.NoError(t, err)

	got, err := Get(ctx, database.DB, s.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "office", got.Name)

	active, err := List(ctx, database.DB, true)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	all, err := List(ctx, database.DB, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUpdate(t *testing.T) {
	dbtest.Clean(t)
	ctx := context.Background()
	s, err := Create(ctx, database.DB, Input{Name: "office", CIDR: "192.168.1.0/28", IsActive: true})
	require.NoError(t, err)

	updated, err := Update(ctx, database.DB, s.ID, Input{Name: "office", CIDR: "192.168.1.0/27", ExcludedIPs: "192.168.1.20", IsActive: false})
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.0/27", updated.CIDR)
	assert.False(t, updated.IsActive)
	assert.Nil(t, updated.Gateway)

	_, err = Get(ctx, database.DB, s.ID, true)
	assert.ErrorIs(t, err, ErrNotFound)

	missing, _ := models.ParseID("00000000-0000-0000-0000-0000000000aa")
	_, err = Update(ctx, database.DB, missing, Input{Name: "x", CIDR: "10.0.0.0/24"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_RejectsReferencedSubnet(t *testing.T) {
	dbtest.Clean(t)
	ctx := context.Background()
	raw := dbtest.InsertSubnet(t, "office", "192.168.1.0/28", "", "")
	dbtest.InsertAllocation(t, raw, "192.168.1.2", "RELEASED", "alice")
	id, err := models.ParseID(raw)
	require.NoError(t, err)

	assert.ErrorIs(t, Delete(ctx, database.DB, id), ErrHasAllocations)

	_, err = Get(ctx, database.DB, id, false)
	assert.NoError(t, err, "subnet must survive a rejected delete")
}

func TestDelete(t *testing.T) {
	dbtest.Clean(t)
	ctx := context.Background()
	s, err := Create(ctx, database.DB, Input{Name: "empty", CIDR: "10.0.16.0/24", IsActive: true})
	require.NoError(t, err)

	require.NoError(t, Delete(ctx, database.DB, s.ID))
	assert.ErrorIs(t, Delete(ctx, database.DB, s.ID), ErrNotFound)
}

func TestSummaries(t *testing.T) {
	dbtest.Clean(t)
	raw := dbtest.InsertSubnet(t, "office", "192.168.1.0/28", "192.168.1.1", "192.168.1.14")
	dbtest.InsertAllocation(t, raw, "192.168.1.2", "USED", "alice")
	dbtest.InsertAllocation(t, raw, "192.168.1.3", "RELEASED", "alice")

	sums, err := Summaries(context.Background(), database.DB, true)
	require.NoError(t, err)
	require.Len(t, sums, 1)

	s := sums[0]
	assert.Equal(t, 1, s.UsedCount)
	assert.Equal(t, 12, s.UsableCount)
	assert.Equal(t, 11, s.FreeCount)
	assert.Equal(t, "192.168.1.2", s.FirstIP)
	assert.Equal(t, "192.168.1.13", s.LastIP)

	l := Describe(s.Subnet)
	assert.Equal(t, s.FirstIP, l.FirstIP)
	assert.Equal(t, s.LastIP, l.LastIP)
	assert.Equal(t, "192.168.1.0", l.Network)
	assert.Equal(t, "192.168.1.15", l.Broadcast)
	assert.Equal(t, []string{"192.168.1.1", "192.168.1.14"}, l.Reserved)
}

func TestSummaries_InactiveForStaff(t *testing.T) {
	dbtest.Clean(t)
	ctx := context.Background()
	s, err := Create(ctx, database.DB, Input{Name: "lab", CIDR: "10.9.0.0/24", IsActive: false})
	require.NoError(t, err)

	active, err := Summaries(ctx, database.DB, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := Summaries(ctx, database.DB, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, s.ID, all[0].Subnet.ID)
	assert.Equal(t, 254, all[0].UsableCount)
}
