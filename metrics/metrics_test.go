package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptionCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordTranscriptionRequest("openai", 2048)
	m.RecordTranscriptionRequest("openai", 4096)
	m.RecordTranscriptionSuccess("openai", 4, 1.5)
	m.RecordTranscriptionFailure("openai", 0.2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TranscriptionRequests.WithLabelValues("openai")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TranscriptionSuccesses.WithLabelValues("openai")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TranscriptionFailures.WithLabelValues("openai")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TranscriptionRequests.WithLabelValues("local")))
}

func TestGaugesAndVault(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetQueueSize(3)
	m.SetSubscribers(2)
	m.RecordVaultEntryAdded()
	m.RecordVaultEntryAdded()
	m.RecordVaultEntryDeleted()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.QueueSize))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Subscribers))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.VaultEntriesAdded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VaultEntriesDeleted))
}

func TestHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordHTTPRequest("POST", "/api/transcribe", "500", 0.01)
	m.RecordHTTPError("POST", "/api/transcribe", "server_error")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("POST", "/api/transcribe", "500")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPErrors.WithLabelValues("POST", "/api/transcribe", "server_error")))

	count, err := testutil.GatherAndCount(reg, "flowlab_http_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
