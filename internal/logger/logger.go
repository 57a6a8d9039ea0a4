package logger

import (
	"io"
	"os"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	current atomic.Pointer[zap.Logger]
	debug   atomic.Bool
)

func init() { SetOutput(os.Stdout) }

// SetOutput redirects every following event to w as JSON lines.
func SetOutput(w io.Writer) {
	enc := zap.NewProductionEncoderConfig()
	enc.MessageKey = "event"
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.Lock(zapcore.AddSync(w)), zap.DebugLevel)
	current.Store(zap.New(core))
}

// Enables Debug events
func SetDebug(on bool) { debug.Store(on) }

// Log emits json lines to Stdout
func Log(event string, kv map[string]any) {
	current.Load().Info(event, fields(kv)...)
}

// Debug is Log for chatty events, dropped unless SetDebug(true).
func Debug(event string, kv map[string]any) {
	if !debug.Load() {
		return
	}
	current.Load().Debug(event, fields(kv)...)
}

func Error(event string, err error, kv map[string]any) {
	fs := fields(kv)
	if err != nil {
		fs = append(fs, zap.Error(err))
	}
	current.Load().Error(event, fs...)
}

// Flushes buffered entries
func Sync() { _ = current.Load().Sync() }

// Keys are sorted so lines are stable between runs
func fields(kv map[string]any) []zap.Field {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, kv[k]))
	}
	return out
}
