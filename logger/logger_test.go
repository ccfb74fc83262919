package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewCoreRoutesByLevel(t *testing.T) {
	tests := []struct {
		name      string
		debug     bool
		wantDebug bool
	}{
		{"Production drops debug", false, false},
		{"Debug keeps debug", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out, errOut bytes.Buffer
			log := zap.New(NewCore(tt.debug, zapcore.AddSync(&out), zapcore.AddSync(&errOut)))

			log.Debug("dbg")
			log.Info("hello", zap.Int("batch", 3))
			log.Warn("careful")
			log.Error("broken")

			assert.Contains(t, out.String(), `"hello"`)
			assert.Contains(t, out.String(), `"batch":3`)
			assert.Equal(t, tt.wantDebug, bytes.Contains(out.Bytes(), []byte(`"dbg"`)))
			assert.NotContains(t, out.String(), "careful")
			assert.Contains(t, errOut.String(), "careful")
			assert.Contains(t, errOut.String(), "broken")
			assert.NotContains(t, errOut.String(), "hello")
		})
	}
}

func TestGetZapLoggerIsShared(t *testing.T) {
	assert.Same(t, GetZapLogger(false), GetZapLogger(true))
}
