package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

// gormLogger routes gorm's logging into zap. SQL text is never logged since
// statements carry token values inline.
type gormLogger struct {
	log   *zap.Logger
	level gormlogger.LogLevel
}

func newGormLogger(l *zap.Logger) gormlogger.Interface {
	return &gormLogger{
		log:   l.Named("gorm").WithOptions(zap.AddCallerSkip(3)),
		level: gormlogger.Warn,
	}
}

func (g *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *g
	clone.level = level
	return &clone
}

func (g *gormLogger) Info(_ context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Info {
		g.log.Info(fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Warn(_ context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Warn {
		g.log.Warn(fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Error(_ context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Error {
		g.log.Error(fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	_, rows := fc()
	fields := []zap.Field{zap.Duration("elapsed", elapsed), zap.Int64("rows", rows)}

	switch {
	case err != nil && g.level >= gormlogger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		g.log.Error("Query failed", append(fields, zap.Error(err))...)
	case elapsed > slowQueryThreshold && g.level >= gormlogger.Warn:
		g.log.Warn("Slow query", fields...)
	case g.level >= gormlogger.Info:
		g.log.Debug("Query", fields...)
	}
}
