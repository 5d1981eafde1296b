package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"ExtractBridge/pkg/logger"
	"ExtractBridge/pkg/plugin"
)

// RedisConfig 描述健康快照的写入位置。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Key      string
	Interval time.Duration
	TTL      time.Duration
}

type statusSetter interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisReporter 定期把注册表健康快照写入 Redis，带过期时间，节点下线后
// 快照自动消失。
type RedisReporter struct {
	client   statusSetter
	closer   func() error
	regs     *plugin.Registries
	key      string
	interval time.Duration
	ttl      time.Duration
	log      *slog.Logger
}

// NewRedisReporter 连接 Redis 并创建上报器。
func NewRedisReporter(ctx context.Context, cfg RedisConfig, regs *plugin.Registries) (*RedisReporter, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	r := newReporter(client, cfg, regs)
	r.closer = client.Close
	return r, nil
}

func newReporter(client statusSetter, cfg RedisConfig, regs *plugin.Registries) *RedisReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 3 * interval
	}
	key := cfg.Key
	if key == "" {
		key = "extractbridge:health"
	}
	return &RedisReporter{
		client:   client,
		regs:     regs,
		key:      key,
		interval: interval,
		ttl:      ttl,
		log:      logger.Named("health"),
	}
}

// Report 写入一次快照。
func (r *RedisReporter) Report(ctx context.Context) error {
	snapshot := struct {
		plugin.HealthStatus
		ReportedAt time.Time `json:"reported_at"`
	}{r.regs.Health(), time.Now().UTC()}
	body, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("序列化健康快照失败: %w", err)
	}
	if err := r.client.Set(ctx, r.key, body, r.ttl).Err(); err != nil {
		return fmt.Errorf("写入健康快照失败: %w", err)
	}
	return nil
}

// Run 立即上报一次，之后按间隔上报，直到 ctx 结束。单次失败只记录日志。
func (r *RedisReporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if err := r.Report(ctx); err != nil && ctx.Err() == nil {
			r.log.Warn("健康快照上报失败", slog.String("key", r.key), slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 关闭 Redis 连接。
func (r *RedisReporter) Close() error {
	if r == nil || r.closer == nil {
		return nil
	}
	return r.closer()
}
