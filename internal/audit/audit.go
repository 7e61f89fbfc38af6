package audit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Logger records every authorized request to a redis stream for offline
// audit. Recording is fire-and-forget: a failed write is logged and the
// response proceeds untouched.
type Logger struct {
	rdb    *redis.Client
	stream string
	logger *zap.Logger
}

func NewLogger(rdb *redis.Client, stream string, logger *zap.Logger) *Logger {
	return &Logger{rdb: rdb, stream: stream, logger: logger}
}

// Event is one audited request/response pair.
type Event struct {
	Method string
	Model  string
	ID     string
	UserID int64
	Role   string
	Status int
	IP     string
}

// Record appends the event to the audit stream. Never fails the caller.
func (l *Logger) Record(ctx context.Context, ev Event) {
	l.logger.Info("request audited",
		zap.String("method", ev.Method),
		zap.String("model", ev.Model),
		zap.String("id", ev.ID),
		zap.Int64("user", ev.UserID),
		zap.String("role", ev.Role),
		zap.Int("status", ev.Status),
		zap.String("ip", ev.IP))

	if l.rdb == nil {
		return
	}
	err := l.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: l.stream,
		Values: map[string]any{
			"at":     time.Now().UnixMilli(),
			"method": ev.Method,
			"model":  ev.Model,
			"id":     ev.ID,
			"user":   ev.UserID,
			"role":   ev.Role,
			"status": ev.Status,
			"ip":     ev.IP,
		},
	}).Err()
	if err != nil {
		l.logger.Warn("audit stream write failed", zap.Error(err))
	}
}
