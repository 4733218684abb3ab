package metrics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nais/hostops/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsAreRegistered(t *testing.T) {
	metrics.Deployment("api", "promoted", 5*time.Second)
	metrics.BackupArtifact("database", "sql-dump", metrics.StatusOK)
	metrics.BackupRun("database", 1024, nil, time.Unix(1760000000, 0))
	metrics.BackupRun("volumes", 0, errors.New("upload failed"), time.Now())
	metrics.Restore(nil)

	families, err := metrics.Registry.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "hostops_deploy_deployments_total")
	assert.Contains(t, names, "hostops_backup_last_success_timestamp_seconds")
	assert.Contains(t, names, "hostops_restore_restores_total")

	count, err := testutil.GatherAndCount(metrics.Registry, "hostops_backup_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPushDisabled(t *testing.T) {
	assert.NoError(t, metrics.Push(context.Background(), "", "hostops"))
}
