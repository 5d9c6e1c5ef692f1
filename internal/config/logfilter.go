package config

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// filterCore drops entries whose message contains a suppressed fragment.
type filterCore struct {
	zapcore.Core
	fragments []string
}

// NewFilterCore wraps core so entries matching any fragment are dropped.
func NewFilterCore(core zapcore.Core, fragments []string) zapcore.Core {
	kept := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if f != "" {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		return core
	}
	return &filterCore{Core: core, fragments: kept}
}

func (c *filterCore) With(fields []zapcore.Field) zapcore.Core {
	return &filterCore{Core: c.Core.With(fields), fragments: c.fragments}
}

func (c *filterCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.suppressed(ent) {
		return ce
	}
	return c.Core.Check(ent, ce)
}

func (c *filterCore) suppressed(ent zapcore.Entry) bool {
	for _, f := range c.fragments {
		if strings.Contains(ent.Message, f) {
			return true
		}
	}
	return false
}

// ScopedLogger returns a child of base that drops the given fragments. The
// filter lives only as long as the returned logger.
func ScopedLogger(base *zap.Logger, fragments []string) *zap.Logger {
	return base.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return NewFilterCore(core, fragments)
	}))
}
