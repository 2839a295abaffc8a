package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// captureOutput redirects logger output to a buffer for testing and returns a
// cleanup function restoring output, level, format and sink.
func captureOutput() (*bytes.Buffer, func()) {
	buf := new(bytes.Buffer)

	mu.Lock()
	originalOutput := output
	originalColor := useColor
	originalSink := sink
	output = buf
	useColor = false
	mu.Unlock()
	originalLevel := GetLevel()
	originalFormat, _ := currentFormat.Load().(string)

	reconfigure()

	cleanup := func() {
		mu.Lock()
		output = originalOutput
		useColor = originalColor
		sink = originalSink
		mu.Unlock()
		SetLevel(originalLevel.String())
		currentFormat.Store(originalFormat)
		reconfigure()
	}

	return buf, cleanup
}

// ============================================================================
// Level Filtering Tests
// ============================================================================

func TestLevelFiltering(t *testing.T) {
	t.Run("TraceLevelShowsAllMessages", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("TRACE")

		Trace("trace message")
		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		out := buf.String()
		for _, want := range []string{"[TRACE]", "[DEBUG]", "[INFO]", "[WARN]", "[ERROR]", "trace message", "error message"} {
			assert.Contains(t, out, want)
		}
	})

	t.Run("InfoLevelFiltersDebugAndTrace", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")

		Trace("trace message")
		Debug("debug message")
		Info("info message")

		out := buf.String()
		assert.NotContains(t, out, "trace message")
		assert.NotContains(t, out, "debug message")
		assert.Contains(t, out, "info message")
	})

	t.Run("DisableSuppressesErrors", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("DISABLE")

		Error("error message")
		ErrorCtx(context.Background(), "ctx error")

		assert.Empty(t, buf.String())
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		ok   bool
	}{
		{"trace", LevelTrace, true},
		{"DEBUG", LevelDebug, true},
		{" info ", LevelInfo, true},
		{"WARNING", LevelWarn, true},
		{"warn", LevelWarn, true},
		{"Error", LevelError, true},
		{"off", LevelDisable, true},
		{"DISABLE", LevelDisable, true},
		{"verbose", LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLevel(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetLevelIgnoresUnknown(t *testing.T) {
	_, cleanup := captureOutput()
	defer cleanup()

	SetLevel("WARN")
	SetLevel("LOUD")
	assert.Equal(t, LevelWarn, GetLevel())
}

// ============================================================================
// Format Tests
// ============================================================================

func TestJSONFormat(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("TRACE")
	SetFormat("json")

	Trace("block read", KeySeq, 7)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "TRACE", entry["level"])
	assert.Equal(t, "block read", entry["msg"])
	assert.EqualValues(t, 7, entry[KeySeq])
}

func TestTextFormatAttrs(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")
	Info("appended", KeyLocation, "ssd", KeyBytes, uint64(4096))

	out := buf.String()
	assert.Contains(t, out, "appended")
	assert.Contains(t, out, "location=ssd")
	assert.Contains(t, out, "bytes=4096")
}

// ============================================================================
// Derived Logger Tests
// ============================================================================

func TestComponentLoggerFollowsReconfiguration(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	l := Component("pool").With(KeyLocation, "hdd")

	SetLevel("ERROR")
	l.Info("hidden")
	assert.Empty(t, buf.String())

	SetLevel("DEBUG")
	l.Debug("visible")

	out := buf.String()
	assert.Contains(t, out, "(pool)")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "location=hdd")

	buf.Reset()
	SetFormat("json")
	l.Info("as json")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "pool", entry[KeyComponent])
}

func TestGroupedAttrs(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")
	With().WithGroup("fill").Info("planned", "need", 10)

	assert.Contains(t, buf.String(), "fill.need=10")
}

// ============================================================================
// Sink Tests
// ============================================================================

type recordingSink struct {
	mu    sync.Mutex
	lines []string
	lvls  []Level
}

func (r *recordingSink) Log(level Level, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lvls = append(r.lvls, level)
	r.lines = append(r.lines, line)
}

func TestSink(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	rec := &recordingSink{}
	SetLevel("DEBUG")
	SetSink(rec)

	Warn("fetch failed", KeyAttempt, 2)
	Component("maintenance").Debug("tick")
	Trace("filtered")

	require.Len(t, rec.lines, 2)
	assert.Equal(t, LevelWarn, rec.lvls[0])
	assert.Equal(t, "fetch failed attempt=2", rec.lines[0])
	assert.Equal(t, LevelDebug, rec.lvls[1])
	assert.Equal(t, "tick component=maintenance", rec.lines[1])

	// Primary output still receives records.
	assert.Contains(t, buf.String(), "fetch failed")

	SetSink(nil)
	Warn("after removal")
	assert.Len(t, rec.lines, 2)
}

func TestSinkFunc(t *testing.T) {
	var got string
	h := NewSinkHandler(SinkFunc(func(_ Level, line string) { got = line }), nil)
	assert.False(t, h.Enabled(context.Background(), -4))
	assert.True(t, h.Enabled(context.Background(), 0))

	sl := NewSinkHandler(SinkFunc(func(_ Level, line string) { got = line }), nil).WithGroup("g")
	loggerWithGroup := newTestLogger(sl)
	loggerWithGroup.Info("m", "k", "v")
	assert.Equal(t, "m g.k=v", got)
}

// ============================================================================
// Context Logging Tests
// ============================================================================

func TestContextLogging(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("DEBUG")
	lc := NewLogContext("consume").WithLocation("ssd")
	lc.TraceID = "abc123"
	ctx := WithContext(context.Background(), lc)

	InfoCtx(ctx, "consumed", KeyBytes, 32)

	out := buf.String()
	assert.Contains(t, out, "trace_id=abc123")
	assert.Contains(t, out, "operation=consume")
	assert.Contains(t, out, "location=ssd")
	assert.Contains(t, out, "bytes=32")
	assert.True(t, strings.Index(out, "trace_id") < strings.Index(out, "bytes"))
}

func TestLogContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	var nilLC *LogContext
	assert.Nil(t, nilLC.Clone())
	assert.Equal(t, "x", nilLC.WithLocation("x").Location)

	lc := NewLogContext("tick")
	cp := lc.WithLocation("hdd")
	assert.Empty(t, lc.Location)
	assert.Equal(t, "tick", cp.Operation)
}

// ============================================================================
// Init Tests
// ============================================================================

func TestInit(t *testing.T) {
	_, cleanup := captureOutput()
	defer cleanup()

	t.Run("FileOutput", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "randpool.log")
		require.NoError(t, Init(Config{Level: "INFO", Format: "text", Output: path}))

		Info("to file")

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "to file")
	})

	t.Run("InvalidLevel", func(t *testing.T) {
		assert.Error(t, Init(Config{Level: "chatty"}))
	})

	t.Run("UnwritableFile", func(t *testing.T) {
		assert.Error(t, Init(Config{Output: filepath.Join(t.TempDir(), "missing", "x.log")}))
	})
}

func TestConcurrentLogging(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	var safe lockedBuffer
	InitWithWriter(&safe, "INFO", "text", false)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				Info("concurrent", "worker", n, "iter", j)
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, buf.String())
	assert.Equal(t, 16*50, strings.Count(safe.String(), "\n"))
}

func TestDuration(t *testing.T) {
	assert.GreaterOrEqual(t, Duration(NewLogContext("x").StartTime), 0.0)
}
