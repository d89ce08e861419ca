package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ticketintel/pkg/utils"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// AlertNotifier 新升级的 SLA 告警通知出口
type AlertNotifier interface {
	Notify(ctx context.Context, alerts []AlertSnapshot) error
}

// LogNotifier 把告警写入日志
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, alerts []AlertSnapshot) error {
	for _, a := range alerts {
		n.logger.WithFields(logrus.Fields{
			"ticket_id":       a.TicketID,
			"severity":        a.Severity,
			"previous":        a.PreviousSeverity,
			"priority":        a.Priority,
			"due_at":          utils.FormatTime(a.DueAt),
			"remaining_hours": a.RemainingHours,
		}).Warn("SLA alert raised")
	}
	return nil
}

// RedisNotifier 通过 Redis pub/sub 广播告警
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisNotifier(client redis.UniversalClient, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, alerts []AlertSnapshot) error {
	for _, a := range alerts {
		payload, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode alert for ticket %d: %w", a.TicketID, err)
		}
		if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
			return fmt.Errorf("publish alert for ticket %d: %w", a.TicketID, err)
		}
	}
	return nil
}

// MultiNotifier 依次调用全部通知出口，单个失败不影响其它出口
type MultiNotifier []AlertNotifier

func (m MultiNotifier) Notify(ctx context.Context, alerts []AlertSnapshot) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, alerts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
