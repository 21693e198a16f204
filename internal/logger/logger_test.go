package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"":      zapcore.InfoLevel,
		"DEBUG": zapcore.DebugLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestSetLevel(t *testing.T) {
	l, err := New("info")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	child := l.Named("child")

	if child.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("debug enabled at info level")
	}
	if err := l.SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	if !child.Core().Enabled(zapcore.DebugLevel) {
		t.Error("child logger did not follow level change")
	}
	if l.Level() != zapcore.DebugLevel {
		t.Errorf("Level() = %v", l.Level())
	}
	if err := l.SetLevel("nope"); err == nil {
		t.Error("expected error for unknown level")
	}
}
