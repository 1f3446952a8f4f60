package logging

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

// NewGormLogger routes gorm's own logging into logger at warn level. A lookup
// that finds no row is an expected outcome for the stores and is not logged.
func NewGormLogger(logger *zap.Logger) gormlogger.Interface {
	if logger == nil {
		logger = zap.NewNop()
	}
	writer, err := zap.NewStdLogAt(logger.Named("gorm"), zapcore.WarnLevel)
	if err != nil {
		writer = zap.NewStdLog(logger.Named("gorm"))
	}
	return gormlogger.New(writer, gormlogger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}
