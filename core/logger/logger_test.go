package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/acmefront/core/logger"
)

type ctxKey struct{}

func TestNew_JSONWithContextValue(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(
		logger.WithProduction("acmefront"),
		logger.WithOutput(&buf),
		logger.WithContextValue("request_id", ctxKey{}),
	)

	ctx := context.WithValue(context.Background(), ctxKey{}, "req-1")
	log.InfoContext(ctx, "order committed", logger.OrderID(42), logger.Transition("pending", "processing"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "order committed", rec["msg"])
	assert.Equal(t, "req-1", rec["request_id"])
	assert.Equal(t, "acmefront", rec["service"])
	assert.EqualValues(t, 42, rec["order_id"])
	assert.Equal(t, map[string]any{"from": "pending", "to": "processing"}, rec["transition"])
}

func TestNew_LevelString(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(logger.WithOutput(&buf), logger.WithLevelString("warn"))
	log.Info("dropped")
	assert.Empty(t, buf.String())

	log.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestAttrs_NilSafe(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.Attr{}, logger.Error(nil))
	assert.Equal(t, slog.Attr{}, logger.Errors(nil, nil))
	assert.Equal(t, slog.Attr{}, logger.RequestID(""))
	assert.Equal(t, slog.Attr{}, logger.AccountID(""))

	attr := logger.Errors(nil, errors.New("boom"))
	assert.Equal(t, "errors", attr.Key)
	assert.Len(t, attr.Value.Group(), 1)
}
