package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{"trace": TRACE, "DEBUG": DEBUG, "": INFO, "warning": WARN, "error": ERROR}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestConsoleLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(&buf, WARN)

	l.Info("скрыто")
	l.Warn("видно %d", 1)
	assert.NotContains(t, buf.String(), "скрыто")
	assert.Contains(t, buf.String(), "[WARN] видно 1")

	l.SetConsoleLevel(DEBUG)
	l.Debug("отладка")
	assert.Contains(t, buf.String(), "[DEBUG] отладка")
}

func TestDefaultLogger_Swap(t *testing.T) {
	prev := defaultLogger
	t.Cleanup(func() { defaultLogger = prev })

	var buf bytes.Buffer
	SetDefaultLogger(NewConsoleLogger(&buf, DEBUG))
	LogScanIngested("radar", 3, [3]int{2, 2, 2}, 5, 1)
	assert.Contains(t, buf.String(), "rev=3")

	current := defaultLogger
	SetDefaultLogger(nil)
	assert.Same(t, current, defaultLogger, "nil не заменяет логгер")
}

func TestManager_ConsoleOnlyByDefault(t *testing.T) {
	EnableFileOutput(false)
	l := GetComponentLogger("test-component")
	require.NotNil(t, l)
	assert.Nil(t, l.file, "без EnableFileOutput файлы не создаются")
	assert.Same(t, l, GetComponentLogger("test-component"))
	assert.Contains(t, GetLoggerManager().ListComponents(), "test-component")
}
