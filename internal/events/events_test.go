package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventJSONOmitsEmptyIDs(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	payload, err := json.Marshal(Event{Type: TypeJobStarted, OwnerID: "tenant-1", At: at})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Equal(t, "job.started", decoded["type"])
	require.Equal(t, "tenant-1", decoded["owner_id"])
	require.NotContains(t, decoded, "job_id")
	require.NotContains(t, decoded, "lead_id")
}

func TestEventJSONRoundTrip(t *testing.T) {
	t.Parallel()

	in := Event{
		Type:    TypeLeadEnriched,
		OwnerID: "tenant-1",
		JobID:   "9cbb25c5-4f0f-4f6e-94f5-3e6b01a54b14",
		LeadID:  "1e0dd2bc-73a4-4e58-a52b-5b64b0e40a7d",
		At:      time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC),
	}
	payload, err := json.Marshal(in)
	require.NoError(t, err)

	var out Event
	require.NoError(t, json.Unmarshal(payload, &out))
	require.Equal(t, in, out)
}
