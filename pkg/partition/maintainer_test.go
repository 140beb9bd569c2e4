package partition

import (
	"context"
	"testing"
	"time"

	"github.com/phtran-dev/spax/pkg/config"
	"github.com/phtran-dev/spax/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPartitionName tests the partition naming scheme
func TestPartitionName(t *testing.T) {
	month := time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "instance_y2026m09", PartitionName(month))
}

// TestPartitionDDL tests the generated range bounds, including the year
// rollover
func TestPartitionDDL(t *testing.T) {
	ddl := partitionDDL("acme", time.Date(2026, time.December, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t,
		"CREATE TABLE IF NOT EXISTS tenant_acme.instance_y2026m12 PARTITION OF tenant_acme.instance "+
			"FOR VALUES FROM ('2026-12-01') TO ('2027-01-01')",
		ddl)
}

// TestEnsurePartitions_RejectsBadCode tests that an unvalidated code never
// reaches the DDL builder
func TestEnsurePartitions_RejectsBadCode(t *testing.T) {
	helper := database.NewTestHelper(t)
	defer helper.Cleanup()

	err := EnsurePartitions(context.Background(), helper.DB, "acme; DROP TABLE instance", time.Now(), 1)
	require.Error(t, err)
}

// TestMaintainer_RunOnce_NonPostgres tests that the pass is a no-op on a
// dialect without partitioned tables
func TestMaintainer_RunOnce_NonPostgres(t *testing.T) {
	helper := database.NewTestHelper(t)
	defer helper.Cleanup()

	maintainer := NewMaintainer(config.PartitionConfig{})
	require.NoError(t, maintainer.RunOnce(context.Background()))
}
