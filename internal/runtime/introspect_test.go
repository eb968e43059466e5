package runtime

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/stonekit/internal/runtime/config"
	"github.com/drblury/stonekit/internal/runtime/jsoncodec"
)

func TestSnapshotDescribesApplication(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, func(o *config.Options) {
		o.App.Providers = []string{"p"}
		o.App.Kernels = map[string]config.KernelOptions{"events": {Type: config.DefaultKernelType}}
	}, ApplicationDependencies{
		Catalog: NewCatalog().Provider("p", providerFactory(&logProvider{log: &recorder{}})),
		Module:  okModule(),
	})
	runLifecycle(t, app)

	snap := app.Snapshot()
	assert.Equal(t, config.DefaultName, snap.Name)
	assert.Equal(t, PhaseStarted, snap.Phase)
	assert.True(t, snap.SetUp)
	assert.True(t, snap.Booted)
	assert.True(t, snap.Bootstrapped)
	require.Len(t, snap.Providers, 1)
	assert.Equal(t, ProviderInfo{Name: "runtime.logProvider", Registered: true, Booted: true}, snap.Providers[0])

	require.Len(t, snap.Kernels, 2)
	assert.Equal(t, "default", snap.Kernels[0].Name)
	assert.True(t, snap.Kernels[0].Active)
	assert.Nil(t, snap.Kernels[0].Stats)
	assert.Equal(t, "events", snap.Kernels[1].Name)
	assert.Equal(t, config.DefaultKernelType, snap.Kernels[1].Type)
	assert.NotNil(t, snap.Kernels[1].Stats)
}

func TestIntrospectionHandler(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, nil, ApplicationDependencies{Module: okModule()})
	runLifecycle(t, app)

	tests := []struct {
		name       string
		cors       string
		method     string
		origin     string
		wantStatus int
		wantOrigin string
	}{
		{"get without cors", "", http.MethodGet, "https://ui.example", http.StatusOK, ""},
		{"get with wildcard", "*", http.MethodGet, "https://ui.example", http.StatusOK, "*"},
		{"matching origin", "https://ui.example", http.MethodGet, "https://UI.example", http.StatusOK, "https://UI.example"},
		{"other origin", "https://ui.example", http.MethodGet, "https://evil.example", http.StatusOK, ""},
		{"preflight", "*", http.MethodOptions, "https://ui.example", http.StatusNoContent, "*"},
		{"post rejected", "*", http.MethodPost, "", http.StatusMethodNotAllowed, "*"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(tt.method, IntrospectionPath, nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			IntrospectionHandler(app, tt.cors).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			if tt.wantStatus == http.StatusMethodNotAllowed {
				assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Allow"))
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var snap ApplicationSnapshot
			require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &snap))
			assert.Equal(t, config.DefaultName, snap.Name)
			assert.Equal(t, PhaseStarted, snap.Phase)
		})
	}
}
