package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlogLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	l.Info("hello", String("document_id", "doc-1"), Int("count", 3))

	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "document_id=doc-1")
	assert.Contains(t, out, "count=3")
}

func TestWithFieldsAttachesToSubsequentCalls(t *testing.T) {
	var buf bytes.Buffer
	l := New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	scoped := l.WithFields(String("document_id", "doc-9"))

	scoped.Warn("uh oh")
	assert.Contains(t, buf.String(), "document_id=doc-9")
}

func TestNoOpLoggerDiscardsEverything(t *testing.T) {
	var n Logger = NoOpLogger{}
	n.Debug("x")
	n.Info("x")
	n.Warn("x")
	n.Error("x")
	assert.Equal(t, n, n.WithFields(String("a", "b")))
	assert.Equal(t, n, n.WithContext(nil))
}

func TestOrNoOp(t *testing.T) {
	assert.IsType(t, NoOpLogger{}, OrNoOp(nil))
	real := Default()
	assert.Equal(t, real, OrNoOp(real))
}

func TestErrFieldWrapsKey(t *testing.T) {
	f := Err(assertError{"boom"})
	assert.Equal(t, "error", f.Key)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
