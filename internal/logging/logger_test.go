package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_JSONComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Logger = zerolog.Nop() })

	log := Component("guardrail")
	log.Info().Str("task_id", "t1").Msg("rejected")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "guardrail", entry["component"])
	assert.Equal(t, "t1", entry["task_id"])
	assert.Equal(t, "rejected", entry["message"])
}

func TestInit_AutoFormatOnBufferIsJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Format: "auto", Output: &buf})
	t.Cleanup(func() { Logger = zerolog.Nop() })

	Logger.Info().Msg("hello")
	assert.True(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("bogus"))
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf).With().Str("k", "v").Logger()
	ctx := WithContext(context.Background(), l)

	got := FromContext(ctx)
	got.Info().Msg("x")
	assert.Contains(t, buf.String(), `"k":"v"`)
}
