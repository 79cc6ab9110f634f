package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestRedactingEncoder(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	buf, err := enc.EncodeEntry(zapcore.Entry{Message: "connecting", Time: time.Unix(0, 0)}, []zapcore.Field{
		zap.String("dsn", "postgres://mirror:hunter2@db:5432/mirror"),
		zap.String("header", "Authorization: Bearer abc.def"),
		zap.String("site", "acme_ro"),
		zap.Int("attempt", 2),
	})
	require.NoError(t, err)
	out := buf.String()

	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "abc.def")
	assert.Contains(t, out, `"site":"acme_ro"`)
	assert.Contains(t, out, `"attempt":2`)
	assert.Contains(t, out, redacted)
}

func TestRedactingEncoderClonePreservesRules(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	child := enc.Clone()
	child.AddString("token", "s3cr3t")
	buf, err := child.EncodeEntry(zapcore.Entry{Message: "x"}, nil)
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "s3cr3t")
}

func TestRedactingEncoderDisabled(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{})
	require.NoError(t, err)

	buf, err := enc.EncodeEntry(zapcore.Entry{Message: "x"}, []zapcore.Field{zap.String("token", "visible")})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "visible")
}
