package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSampledCoreNeverDropsErrors(t *testing.T) {
	base, observed := observer.New(TraceLevel)
	core := newSampledCore(base, SamplingConfig{Enabled: true, Tick: time.Minute, Initial: 1, Thereafter: 0})

	for i := 0; i < 5; i++ {
		if ce := core.Check(zapcore.Entry{Level: zapcore.InfoLevel, Message: "noisy"}, nil); ce != nil {
			ce.Write()
		}
		if ce := core.Check(zapcore.Entry{Level: zapcore.ErrorLevel, Message: "failure"}, nil); ce != nil {
			ce.Write()
		}
	}

	assert.Equal(t, 1, observed.FilterMessage("noisy").Len())
	assert.Equal(t, 5, observed.FilterMessage("failure").Len())
}

func TestSampledCoreDisabled(t *testing.T) {
	base, _ := observer.New(zapcore.InfoLevel)
	assert.Equal(t, base, newSampledCore(base, SamplingConfig{}))
}
