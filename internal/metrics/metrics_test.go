package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUsesPrivateRegistry(t *testing.T) {
	a := New()
	b := New()
	a.SignalsFired.WithLabelValues("ema_crossover_bullish").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.SignalsFired.WithLabelValues("ema_crossover_bullish")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.SignalsFired.WithLabelValues("ema_crossover_bullish")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.SamplesIngested.WithLabelValues("5m").Add(3)
	m.WSClients.Set(2)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, `signalboard_samples_ingested_total{timeframe="5m"} 3`))
	assert.True(t, strings.Contains(text, "signalboard_ws_clients 2"))
}
