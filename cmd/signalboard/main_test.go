package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/signalboard/internal/domain"
	"github.com/alanyoungcy/signalboard/internal/rules"
)

func TestCheckFormulaPrintsCanonicalText(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, checkFormula(&out, "price > ema50", nil, ""))
	assert.Equal(t, "price > ema50\n", out.String())
}

func TestCheckFormulaJoinsConditions(t *testing.T) {
	var out bytes.Buffer
	err := checkFormula(&out, "", []string{"price_above_ema50", "ema50_above_ema200"}, "or")
	require.NoError(t, err)
	assert.Equal(t, "price > ema50 || ema50 > ema200\n", out.String())
}

func TestCheckFormulaMarksErrorPosition(t *testing.T) {
	var out bytes.Buffer
	err := checkFormula(&out, "price > rsi", nil, "")

	var ce *rules.CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 8, ce.Pos)
	assert.Contains(t, out.String(), "price > rsi\n        ^")
}

func TestWebsocketURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8000":     "ws://localhost:8000/ws",
		"https://board.example/":    "wss://board.example/ws",
		"https://board.example/app": "wss://board.example/app/ws",
	}
	for in, want := range cases {
		got, err := websocketURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := websocketURL("ftp://board.example")
	assert.Error(t, err)
}

func TestSignalListerFetch(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/signals", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		if r.Header.Get("X-API-Key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"signals": []domain.Signal{{ID: "s1", StrategyName: "golden", Price: 101.5, Timestamp: ts}},
			"limit":   3,
		})
	}))
	defer srv.Close()

	l := &signalLister{base: srv.URL, apiKey: "k", limit: 3, client: srv.Client()}
	got, err := l.fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].ID)
	assert.True(t, ts.Equal(got[0].Timestamp))

	l.apiKey = ""
	_, err = l.fetch(context.Background())
	assert.ErrorContains(t, err, "status 401")
}
