package utils

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm/logger"

	"github.com/ethereum/go-ethereum/log"
)

var (
	_ logger.Interface = Logger{}

	SlowThresholdMilliseconds int64 = 500
)

// Logger routes gorm's logging through the process logger.
type Logger struct {
	log log.Logger
}

func NewLogger(log log.Logger) Logger {
	return Logger{log.New("module", "gorm")}
}

func (l Logger) LogMode(lvl logger.LogLevel) logger.Interface {
	return l
}

func (l Logger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.log.Info(fmt.Sprintf(msg, data...))
}

func (l Logger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.log.Warn(fmt.Sprintf(msg, data...))
}

func (l Logger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.log.Error(fmt.Sprintf(msg, data...))
}

func (l Logger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	elapsedMs := time.Since(begin).Milliseconds()

	// batch inserts carry every row in the statement
	sql, rows := fc()
	if i := strings.Index(strings.ToLower(sql), "values"); i > 0 {
		sql = fmt.Sprintf("%sVALUES (...)", sql[:i])
	}

	if err != nil && !strings.Contains(err.Error(), "record not found") {
		l.log.Error("database operation", "duration_ms", elapsedMs, "rows_affected", rows, "sql", sql, "err", err)
		return
	}
	if elapsedMs < SlowThresholdMilliseconds {
		l.log.Debug("database operation", "duration_ms", elapsedMs, "rows_affected", rows, "sql", sql)
	} else {
		l.log.Warn("database operation", "duration_ms", elapsedMs, "rows_affected", rows, "sql", sql)
	}
}
