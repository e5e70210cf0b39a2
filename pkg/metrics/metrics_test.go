package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollectors_RecordsLabeledCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	collectors := NewCollectors(reg)

	collectors.MessagesProcessed.WithLabelValues("bot-1").Inc()
	collectors.ValidationFailures.WithLabelValues("bot-1", "A").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, fam := range families {
		if fam.GetName() == "convoflow_messages_processed_total" {
			found = true
			require.Len(t, fam.Metric, 1)
			assert.Equal(t, float64(1), fam.Metric[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found, "expected convoflow_messages_processed_total to be registered")
}

func TestHandler_ServesGatheredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collectors := NewCollectors(reg)
	collectors.MiddlewareRejects.WithLabelValues("bot-1", "A").Inc()

	h := Handler(reg)
	assert.NotNil(t, h)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "convoflow_middleware_rejections_total")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
