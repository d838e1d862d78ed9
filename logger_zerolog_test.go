package wsession

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLogger_WithFieldIsStructured(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerologLogger(zerolog.New(&buf)).WithField("component", "queue")

	log.Warnf("queue full, dropping %s", "abc")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "queue", entry["component"])
	assert.Equal(t, "queue full, dropping abc", entry["message"])
}

func TestZerologLogger_LnHasNoTrailingNewline(t *testing.T) {
	var buf bytes.Buffer
	NewZerologLogger(zerolog.New(&buf)).Infoln("<=", "[PONG]")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "<= [PONG]", entry["message"])
}

func TestNopLogger(t *testing.T) {
	log := NopLogger().WithField("k", "v")
	log.Error("nothing happens")
}
