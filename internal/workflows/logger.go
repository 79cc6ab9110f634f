package workflows

import (
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// ZapAdapter lets the Temporal SDK log through zap.
type ZapAdapter struct {
	s *zap.SugaredLogger
}

var _ log.Logger = (*ZapAdapter)(nil)

// NewZapAdapter wraps l.
func NewZapAdapter(l *zap.Logger) *ZapAdapter {
	return &ZapAdapter{s: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (a *ZapAdapter) Debug(msg string, keyvals ...interface{}) { a.s.Debugw(msg, keyvals...) }
func (a *ZapAdapter) Info(msg string, keyvals ...interface{})  { a.s.Infow(msg, keyvals...) }
func (a *ZapAdapter) Warn(msg string, keyvals ...interface{})  { a.s.Warnw(msg, keyvals...) }
func (a *ZapAdapter) Error(msg string, keyvals ...interface{}) { a.s.Errorw(msg, keyvals...) }
