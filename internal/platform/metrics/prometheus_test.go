package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsManager_Exposition(t *testing.T) {
	m := NewMetricsManager("catalog")
	m.CacheRequestsTotal.WithLabelValues("hit").Inc()
	m.CacheRequestsTotal.WithLabelValues("hit").Inc()
	m.OutboxProcessedTotal.WithLabelValues("upsert", "ok").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheRequestsTotal.WithLabelValues("hit")))

	srv := httptest.NewServer(NewServer(":0", m.Registry).Handler)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `catalog_cache_requests_total{result="hit"} 2`)
	assert.Contains(t, string(body), `catalog_outbox_records_total{op="upsert",result="ok"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
