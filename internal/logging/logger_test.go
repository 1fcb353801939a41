package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

func newTestLogger(level Level) (*Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return New(Options{Level: level, Output: buf, Development: true}), buf
}

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{" warn ", WARN},
		{"warning", WARN},
		{"error", ERROR},
		{"", INFO},
		{"verbose", INFO},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWithField(t *testing.T) {
	logger := WithField("key", "value")

	if logger == nil {
		t.Fatal("WithField returned nil")
	}
	if logger.fields["key"] != "value" {
		t.Error("field not set correctly")
	}
	if len(Default().fields) > 0 {
		t.Error("should not modify default logger")
	}
}

func TestLogger_WithFields(t *testing.T) {
	base, _ := newTestLogger(INFO)
	base = base.WithField("existing", "value")

	logger := base.WithFields(map[string]interface{}{
		"new1": "value1",
		"new2": "value2",
	})

	if len(logger.fields) != 3 {
		t.Errorf("got %d fields, want 3", len(logger.fields))
	}
	if logger.fields["existing"] != "value" {
		t.Error("existing field not preserved")
	}
	if _, ok := base.fields["new1"]; ok {
		t.Error("original logger was modified")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	logger, buf := newTestLogger(WARN)

	logger.Debug("debug message")
	logger.Info("info message")
	if buf.Len() > 0 {
		t.Errorf("DEBUG and INFO should be filtered when level is WARN, got %q", buf.String())
	}

	logger.Warn("warn message")
	if buf.Len() == 0 {
		t.Error("WARN should not be filtered")
	}

	buf.Reset()
	logger.Error("error message")
	if buf.Len() == 0 {
		t.Error("ERROR should not be filtered")
	}
}

func TestLogger_Format(t *testing.T) {
	logger, buf := newTestLogger(DEBUG)

	logger.Info("value: %d", 42)

	output := buf.String()
	if !strings.Contains(output, "[INFO]") {
		t.Errorf("output should contain level: %s", output)
	}
	if !strings.Contains(output, "value: 42") {
		t.Errorf("output should contain formatted value: %s", output)
	}
}

func TestLogger_FieldsInOutput(t *testing.T) {
	logger, buf := newTestLogger(DEBUG)

	logger.WithFields(map[string]interface{}{"key1": "value1", "key2": 42}).Info("test")

	output := buf.String()
	for _, want := range []string{"key1", "value1", "key2", "42"} {
		if !strings.Contains(output, want) {
			t.Errorf("output should contain %q: %s", want, output)
		}
	}
}

func TestLogger_ProductionIsJSON(t *testing.T) {
	buf := &syncBuffer{}
	logger := New(Options{Level: INFO, Output: buf}).WithField("component", "realtime")

	logger.Warn("socket closed")

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("production output should be JSON: %v (%s)", err, buf.String())
	}
	if entry["msg"] != "socket closed" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["level"] != "WARN" {
		t.Errorf("level = %v", entry["level"])
	}
	if entry["component"] != "realtime" {
		t.Errorf("component = %v", entry["component"])
	}
}

func TestPackageFunctions(t *testing.T) {
	orig := Default()
	defer func() {
		defaultMu.Lock()
		defaultLogger = orig
		defaultMu.Unlock()
	}()

	buf := &syncBuffer{}
	Configure(Options{Level: DEBUG, Output: buf, Development: true})

	tests := []struct {
		name string
		fn   func(string, ...interface{})
		want string
	}{
		{"Debug", Debug, "[DEBUG]"},
		{"Info", Info, "[INFO]"},
		{"Warn", Warn, "[WARN]"},
		{"Error", Error, "[ERROR]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.fn("test %s", tt.name)
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("%s should output %s, got %q", tt.name, tt.want, buf.String())
			}
		})
	}
}

func TestSetOutput_SwapsDefault(t *testing.T) {
	orig := Default()
	defer func() {
		defaultMu.Lock()
		defaultLogger = orig
		defaultMu.Unlock()
	}()

	first := &syncBuffer{}
	Configure(Options{Level: WARN, Output: first})
	before := Default()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			Warn("writer %d", n)
		}(i)
	}
	second := &syncBuffer{}
	SetOutput(second)
	wg.Wait()

	if Default() == before {
		t.Fatal("SetOutput should install a new logger")
	}
	if Default().Level() != WARN {
		t.Errorf("level = %s, want WARN", Default().Level())
	}

	second.Reset()
	Warn("after swap")
	if !strings.Contains(second.String(), "after swap") {
		t.Errorf("new writer got %q", second.String())
	}
	before.Warn("old handle")
	if strings.Contains(second.String(), "old handle") {
		t.Error("a logger taken before SetOutput should keep its writer")
	}
}

func TestSetLevel(t *testing.T) {
	orig := Default().Level()
	defer SetLevel(orig)

	SetLevel(ERROR)
	if Default().Level() != ERROR {
		t.Error("SetLevel did not change level")
	}
	SetLevel(DEBUG)
	if Default().Level() != DEBUG {
		t.Error("SetLevel did not change level")
	}
}

func TestLogger_ConcurrentAccess(t *testing.T) {
	logger, buf := newTestLogger(DEBUG)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.Info("message %d", n)
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 10 {
		t.Errorf("expected 10 log lines, got %d", len(lines))
	}
}

func TestOrDefault(t *testing.T) {
	if OrDefault(nil) != Default() {
		t.Error("nil logger should fall back to default")
	}
	l, _ := newTestLogger(INFO)
	if OrDefault(l) != l {
		t.Error("non-nil logger should be returned as is")
	}
}
