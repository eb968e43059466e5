package runtime

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/stonekit/internal/runtime/config"
	"github.com/drblury/stonekit/internal/runtime/container"
	errspkg "github.com/drblury/stonekit/internal/runtime/errors"
	"github.com/drblury/stonekit/internal/runtime/events"
	loggingpkg "github.com/drblury/stonekit/internal/runtime/logging"
)

func newBufferedHandler(t *testing.T, opts config.LoggingOptions, debug bool) (*ErrorHandler, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := loggingpkg.New("debug", loggingpkg.FormatJSON, &buf)
	require.NoError(t, err)
	return NewErrorHandler(logger, opts, debug), &buf
}

func TestReportSkipsExcludedCodes(t *testing.T) {
	t.Parallel()

	h, buf := newBufferedHandler(t, config.LoggingOptions{DontReport: []string{"auth-401"}}, false)
	h.Report(context.Background(), errspkg.Wrap(nil, "AUTH-401", http.StatusUnauthorized, "Unauthorized"))
	assert.Empty(t, buf.String())

	h.Report(context.Background(), errors.New("plain"))
	assert.Contains(t, buf.String(), `"code":"CORE-500"`)
}

func TestReportWithoutDuplicates(t *testing.T) {
	t.Parallel()

	h, buf := newBufferedHandler(t, config.LoggingOptions{WithoutDuplicates: true}, false)
	err := errspkg.NewApplicationError("once")
	h.Report(context.Background(), err)
	h.Report(context.Background(), err)
	h.Report(context.Background(), errspkg.NewApplicationError("once"))

	assert.Equal(t, 2, strings.Count(buf.String(), "Error reported"))
}

func TestReportUsesConfiguredLevel(t *testing.T) {
	t.Parallel()

	h, buf := newBufferedHandler(t, config.LoggingOptions{Levels: map[string]string{"USER-404": "WARN"}}, false)
	h.Report(context.Background(), errspkg.Wrap(nil, "USER-404", http.StatusNotFound, "missing"))

	out := buf.String()
	assert.Contains(t, out, `"level":"INFO"`)
	assert.Contains(t, out, `"level":"warn"`)
}

func TestReportIncludesCurrentEvent(t *testing.T) {
	t.Parallel()

	h, buf := newBufferedHandler(t, config.LoggingOptions{}, false)
	ev := events.New("greet", "test").Set(MetadataKeyCorrelationID, "corr-1")
	ctx := container.WithContainer(context.Background(), container.New().Instance(EventKey, ev))

	h.Report(ctx, errors.New("boom"))
	out := buf.String()
	assert.Contains(t, out, ev.ID())
	assert.Contains(t, out, `"event_type":"greet"`)
	assert.Contains(t, out, "corr-1")
}

func TestReportIgnoresNil(t *testing.T) {
	t.Parallel()

	h, buf := newBufferedHandler(t, config.LoggingOptions{}, false)
	h.Report(context.Background(), nil)
	assert.Empty(t, buf.String())

	var none *ErrorHandler
	none.Report(context.Background(), errors.New("ignored"))
}

func TestViewHidesDetailOutsideDebug(t *testing.T) {
	t.Parallel()

	h, _ := newBufferedHandler(t, config.LoggingOptions{}, false)
	view := h.View(errors.New("database password leaked"))

	assert.Equal(t, errspkg.DefaultErrorCode, view.Code)
	assert.Equal(t, http.StatusInternalServerError, view.Status)
	assert.Equal(t, ProductionErrorMessage, view.Message)
	assert.Empty(t, view.Detail)
}

func TestViewDebugShowsChain(t *testing.T) {
	t.Parallel()

	h, _ := newBufferedHandler(t, config.LoggingOptions{}, true)
	appErr := errspkg.Wrap(errors.New("row missing"), "USER-404", http.StatusNotFound, "User not found").
		WithMetadata("user_id", 7)
	view := h.View(appErr)

	assert.Equal(t, http.StatusNotFound, view.Status)
	assert.Equal(t, appErr.Error(), view.Message)
	assert.Equal(t, []string{appErr.Error(), "row missing"}, view.Detail)
	assert.Equal(t, map[string]any{"user_id": 7}, view.Metadata)
}

func TestRenderWrapsView(t *testing.T) {
	t.Parallel()

	h, _ := newBufferedHandler(t, config.LoggingOptions{}, false)
	resp := h.Render(errspkg.Wrap(nil, "CORE-418", http.StatusTeapot, "teapot"))

	assert.Equal(t, http.StatusTeapot, resp.StatusCode())
	view, ok := resp.Content().(ErrorView)
	require.True(t, ok)
	assert.Equal(t, "CORE-418", view.Code)
	assert.Equal(t, "teapot", view.Message)
}
