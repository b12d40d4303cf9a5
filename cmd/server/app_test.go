package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/recordhub/internal/config"
	"github.com/your-org/recordhub/internal/domain"
)

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	cfg, err := config.Read("")
	require.NoError(t, err)

	dir := t.TempDir()
	cfg.Backend.Driver = driver
	cfg.SQL.DSN = filepath.Join(dir, "records.db")
	cfg.Audit.Enabled = true
	cfg.Audit.DSN = filepath.Join(dir, "audit.db")
	cfg.Events.Async = true
	return cfg
}

func TestAppServesCollections(t *testing.T) {
	for _, driver := range []string{config.DriverDatastore, config.DriverSQL} {
		t.Run(driver, func(t *testing.T) {
			app := NewApp(testConfig(t, driver), zaptest.NewLogger(t))
			require.NoError(t, app.Initialize())
			app.hub.Start()
			defer func() { assert.NoError(t, app.Shutdown()) }()

			srv := httptest.NewServer(app.Handler())
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/api/v1/categories", "application/json", strings.NewReader(`{"name":"tools"}`))
			require.NoError(t, err)
			resp.Body.Close()
			require.Equal(t, http.StatusCreated, resp.StatusCode)

			resp, err = http.Get(srv.URL + "/api/v1/categories")
			require.NoError(t, err)
			var env domain.Envelope[domain.Category]
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
			resp.Body.Close()
			assert.Equal(t, 1, env.Count)
			assert.False(t, env.Results[0].CreatedAt.IsZero())

			resp, err = http.Get(srv.URL + "/api/v1/products")
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)

			resp, err = http.Get(srv.URL + "/health")
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)

			// async delivery reaches the audit log
			assert.Eventually(t, func() bool {
				entries, err := app.recorder.List(t.Context(), "categories", 0)
				return err == nil && len(entries) == 2
			}, 2*time.Second, 10*time.Millisecond)
		})
	}
}

func TestAppInitializeOnce(t *testing.T) {
	app := NewApp(testConfig(t, config.DriverDatastore), zaptest.NewLogger(t))
	require.NoError(t, app.Initialize())
	first := app.Handler()
	require.NoError(t, app.Initialize())
	assert.Same(t, first, app.Handler())
	require.NoError(t, app.Shutdown())
	require.NoError(t, app.Shutdown())
}

func TestAppUnknownDriver(t *testing.T) {
	cfg := testConfig(t, config.DriverDatastore)
	cfg.Backend.Driver = "couch"

	app := NewApp(cfg, zaptest.NewLogger(t))
	assert.Error(t, app.Initialize())
	assert.NoError(t, app.Shutdown())
}
