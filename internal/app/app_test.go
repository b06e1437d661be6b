package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/refset/desk-routing/internal/config"
	"github.com/refset/desk-routing/internal/routing"
	"github.com/refset/desk-routing/internal/store"
)

func sqliteConfig(t *testing.T) *config.Config {
	cfg := config.Defaults()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "routing.db")
	return cfg
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)
}

func TestNewEngineNeedsSeededStore(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(t)

	st, err := OpenStore(ctx, cfg.Database)
	require.NoError(t, err)
	defer st.Close()

	_, err = NewEngine(ctx, cfg, st, zap.NewNop())
	assert.ErrorIs(t, err, routing.ErrUnknownDesk)

	ds, err := store.LoadDataset("")
	require.NoError(t, err)
	require.NoError(t, st.Seed(ctx, ds))

	eng, err := NewEngine(ctx, cfg, st, zap.NewNop())
	require.NoError(t, err)

	res, err := eng.ProcessInbound(ctx, routing.InboundMessage{
		FromEmail: "ops.cl0002@example-client.com",
		Subject:   "Trade status",
		Body:      "Has TRD000003 been executed and confirmed?",
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "trade_status", res.IntentCode)

	families, err := eng.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewEngineRejectsBadRulesFile(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(t)
	cfg.RulesFile = filepath.Join(t.TempDir(), "missing.yaml")

	st, err := OpenStore(ctx, cfg.Database)
	require.NoError(t, err)
	defer st.Close()

	_, err = NewEngine(ctx, cfg, st, zap.NewNop())
	assert.ErrorContains(t, err, "rules: read")
}

func TestNewEngineChecksClassifierAtStartup(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(t)

	st, err := OpenStore(ctx, cfg.Database)
	require.NoError(t, err)
	defer st.Close()
	ds, err := store.LoadDataset("")
	require.NoError(t, err)
	require.NoError(t, st.Seed(ctx, ds))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	cfg.Classifier.Provider = "http"
	cfg.Classifier.BaseURL = down.URL
	core, logs := observer.New(zap.InfoLevel)

	eng, err := NewEngine(ctx, cfg, st, zap.New(core))
	require.NoError(t, err)
	require.NotNil(t, eng)

	warned := logs.FilterMessage("classifier unreachable, heuristic fallback will answer until it recovers").All()
	require.Len(t, warned, 1)
	assert.Contains(t, warned[0].ContextMap()["error"], "http:"+down.URL)
	assert.Zero(t, logs.FilterMessage("classifier ready").Len())
}
