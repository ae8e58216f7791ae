package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Level(t *testing.T) {
	tests := []struct {
		level string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"warn", logrus.WarnLevel},
		{"", logrus.InfoLevel},
		{"nonsense", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			log := New(Options{Level: tt.level, Output: &bytes.Buffer{}})
			assert.Equal(t, tt.want, log.GetLevel())
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Format: "json", Output: &buf})

	WithComponent(log, "vm").WithField("vm", "web").Info("launched")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "launched", entry["msg"])
	assert.Equal(t, "vm", entry["component"])
	assert.Equal(t, "web", entry["vm"])
}

func TestWithComponent_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		WithComponent(nil, "x").Info("dropped")
	})
}
