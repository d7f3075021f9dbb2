package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestObjectNamePartitionsByOwnerAndDay(t *testing.T) {
	t.Parallel()

	visited := time.Date(2026, 8, 28, 23, 59, 0, 0, time.FixedZone("tbilisi", 4*3600))
	name := ObjectName("pages", "tenant-1", "lead-abc", visited)

	// The day partition comes from the UTC clock, not the local one.
	require.Equal(t, "pages/tenant-1/2026/08/28/lead-abc.html", name)
}

func TestNoOpArchiveSave(t *testing.T) {
	t.Parallel()

	require.NoError(t, NoOpArchive{}.Save(context.Background(), "x", []byte("y")))
}
