package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// GormLoggerConfig configures the GORM zap logger.
type GormLoggerConfig struct {
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
	// LogRecordNotFound reports First() misses as errors. Repositories probe
	// for existing rows constantly, so it is off by default.
	LogRecordNotFound bool
}

func DefaultGormLoggerConfig() GormLoggerConfig {
	return GormLoggerConfig{
		Level:         gormlogger.Warn,
		SlowThreshold: 200 * time.Millisecond,
	}
}

// GormLogger routes GORM output through the request-scoped zap logger so SQL
// lines carry the same request, actor and trace fields as the handler.
type GormLogger struct {
	cfg GormLoggerConfig
}

func NewGormLogger(cfg GormLoggerConfig) *GormLogger {
	return &GormLogger{cfg: cfg}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.cfg.Level = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Info, zapcore.InfoLevel, msg, data)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

func (l *GormLogger) message(ctx context.Context, min gormlogger.LogLevel, level zapcore.Level, msg string, data []interface{}) {
	if l.cfg.Level < min {
		return
	}
	fields := []zap.Field{zap.String("component", "gorm")}
	if len(data) > 0 {
		fields = append(fields, zap.Any("data", data))
	}
	if ce := FromContext(ctx).Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

// Trace logs failed and slow statements. Row-locking reads are tagged so
// contention on the settlement path is easy to find.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.cfg.Level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	notFound := errors.Is(err, gormlogger.ErrRecordNotFound)
	switch {
	case err != nil && l.cfg.Level >= gormlogger.Error && (!notFound || l.cfg.LogRecordNotFound):
		l.query(ctx, fc, elapsed, err, zapcore.ErrorLevel)
	case l.cfg.SlowThreshold > 0 && elapsed > l.cfg.SlowThreshold && l.cfg.Level >= gormlogger.Warn:
		l.query(ctx, fc, elapsed, nil, zapcore.WarnLevel)
	case l.cfg.Level >= gormlogger.Info:
		l.query(ctx, fc, elapsed, nil, zapcore.DebugLevel)
	}
}

// ParamsFilter drops bound values; they carry emails and guest phone numbers.
func (l *GormLogger) ParamsFilter(ctx context.Context, sql string, params ...interface{}) (string, []interface{}) {
	return sql, nil
}

func (l *GormLogger) query(ctx context.Context, fc func() (string, int64), elapsed time.Duration, err error, level zapcore.Level) {
	sql, rows := fc()
	stmt := describeSQL(sql)
	fields := []zap.Field{
		zap.String("component", "gorm"),
		zap.String("sql", strings.TrimSpace(sql)),
		zap.String("operation", stmt.operation),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if stmt.table != "" {
		fields = append(fields, zap.String("table", stmt.table))
	}
	if stmt.locking {
		fields = append(fields, zap.Bool("row_lock", true))
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}

	msg := "gorm.query"
	if level == zapcore.WarnLevel {
		msg = "gorm.slow_query"
	}
	if ce := FromContext(ctx).Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

type sqlSummary struct {
	operation string
	table     string
	locking   bool
}

func describeSQL(sql string) sqlSummary {
	tokens := strings.Fields(strings.ToUpper(strings.TrimSpace(sql)))
	summary := sqlSummary{operation: "UNKNOWN"}
	original := strings.Fields(strings.TrimSpace(sql))

	for i, token := range tokens {
		token = strings.Trim(token, "();")
		switch token {
		case "SELECT", "INSERT", "UPDATE", "DELETE", "MERGE":
			if summary.operation == "UNKNOWN" {
				summary.operation = token
				if token == "UPDATE" && i+1 < len(original) {
					summary.table = cleanIdent(original[i+1])
				}
			}
		case "FROM", "INTO":
			if summary.table == "" && i+1 < len(original) {
				summary.table = cleanIdent(original[i+1])
			}
		case "FOR":
			if i+1 < len(tokens) && (tokens[i+1] == "UPDATE" || tokens[i+1] == "SHARE") {
				summary.locking = true
			}
		}
	}
	return summary
}

func cleanIdent(s string) string {
	return strings.Trim(s, "\"`();")
}

var _ gormlogger.Interface = (*GormLogger)(nil)
