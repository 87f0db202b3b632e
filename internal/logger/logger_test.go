package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Format: "json", Output: &buf})

	l.WithField("title", "lecture-01").Debug("chunked")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "chunked", entry["message"])
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "lecture-01", entry["title"])
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	l := New(Config{Level: "chatty"})
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
}

func TestOrDiscard(t *testing.T) {
	assert.NotNil(t, OrDiscard(nil))
	l := New(Config{})
	assert.Same(t, l, OrDiscard(l))
}
