package snapshottest_test

import (
	"testing"
	"time"

	"github.com/nais/hostops/pkg/snapshot"
	"github.com/nais/hostops/pkg/snapshot/snapshottest"
)

func TestMemoryRepository(t *testing.T) {
	snapshottest.Run(t, func(t *testing.T, now func() time.Time) snapshot.Repository {
		m := snapshottest.NewMemory()
		m.Now = now
		return m
	})
}
