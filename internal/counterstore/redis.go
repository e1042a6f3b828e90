package counterstore

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTimeout = 250 * time.Millisecond
	scanBatch      = 256
)

type RedisConfig struct {
	Host     string
	Port     int
	DB       int
	Password string
}

func (c RedisConfig) Addr() string { return net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) }

type Redis struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
	observe Observer
	tracer  trace.Tracer
}

type Option func(*Redis)

// WithPrefix namespaces every key, e.g. to share a database between services.
func WithPrefix(p string) Option { return func(r *Redis) { r.prefix = p } }

// WithTimeout bounds each round trip on top of the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(r *Redis) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithObserver(o Observer) Option { return func(r *Redis) { r.observe = o } }

// NewRedis wraps an existing client. The client should have
// ContextTimeoutEnabled set so that WithTimeout reaches the socket.
func NewRedis(client *redis.Client, opts ...Option) *Redis {
	r := &Redis{
		client:  client,
		timeout: defaultTimeout,
		observe: func(string, time.Duration, error) {},
		tracer:  otel.Tracer("github.com/keithlinneman/windowguard/internal/counterstore"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Dial connects to the configured server and verifies it answers PING.
func Dial(ctx context.Context, cfg RedisConfig, opts ...Option) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:                  cfg.Addr(),
		DB:                    cfg.DB,
		Password:              cfg.Password,
		ContextTimeoutEnabled: true,
		MaxRetries:            1,
	})
	r := NewRedis(client, opts...)
	if err := r.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return r, nil
}

// round starts the bounded, traced context of one store operation. The
// returned func ends it and converts err into an ErrUnavailable error.
func (r *Redis) round(ctx context.Context, op, key string) (context.Context, func(error) error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	ctx, span := r.tracer.Start(ctx, "counterstore."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", op),
			attribute.String("counterstore.key", key),
		))
	start := time.Now()
	return ctx, func(err error) error {
		defer cancel()
		defer span.End()
		r.observe(op, time.Since(start), err)
		if err == nil {
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return unavailable(op, err)
	}
}

func (r *Redis) IncrementAndExpireAt(ctx context.Context, key string, expireAt time.Time) (int64, error) {
	ctx, done := r.round(ctx, "incr_expire", key)
	k := r.prefix + key
	var n *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		n = p.Incr(ctx, k)
		p.ExpireAt(ctx, k, expireAt)
		return nil
	})
	if err != nil {
		return 0, done(err)
	}
	return n.Val(), done(nil)
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	ctx, done := r.round(ctx, "incr", key)
	n, err := r.client.Incr(ctx, r.prefix+key).Result()
	return n, done(err)
}

func (r *Redis) Get(ctx context.Context, key string) (int64, error) {
	ctx, done := r.round(ctx, "get", key)
	n, err := r.client.Get(ctx, r.prefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, done(nil)
	}
	return n, done(err)
}

func (r *Redis) Match(ctx context.Context, pattern string) (map[string]int64, error) {
	ctx, done := r.round(ctx, "match", pattern)
	out := make(map[string]int64)
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+pattern, scanBatch).Result()
		if err != nil {
			return nil, done(err)
		}
		if len(keys) > 0 {
			vals, err := r.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, done(err)
			}
			for i, v := range vals {
				s, ok := v.(string)
				if !ok {
					// expired between SCAN and MGET
					continue
				}
				n, err := strconv.ParseInt(s, 10, 64)
				if err != nil {
					continue
				}
				out[keys[i][len(r.prefix):]] = n
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return out, done(nil)
}

func (r *Redis) Ping(ctx context.Context) error {
	ctx, done := r.round(ctx, "ping", "")
	return done(r.client.Ping(ctx).Err())
}

func (r *Redis) Close() error { return r.client.Close() }
