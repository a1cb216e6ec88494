package redis

import (
	"context"
	"errors"
	"net"
	"sync/atomic"

	"github.com/tutulonan/rsspulse/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
)

// healthHook implements goredis.Hook and tracks whether the last dial or
// command reached the server.
type healthHook struct {
	up      atomic.Bool
	metrics *metrics.BusMetrics
}

var _ goredis.Hook = (*healthHook)(nil)

func (h *healthHook) observe(err error) {
	ok := err == nil || errors.Is(err, goredis.Nil) || !isConnError(err)
	if h.up.Swap(ok) != ok {
		if ok {
			h.metrics.Connected.Set(1)
		} else {
			h.metrics.Connected.Set(0)
		}
	}
}

func (h *healthHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.observe(err)
		}
		return conn, err
	}
}

func (h *healthHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		err := next(ctx, cmd)
		h.observe(err)
		return err
	}
}

func (h *healthHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		err := next(ctx, cmds)
		h.observe(err)
		return err
	}
}

// isConnError separates transport failures from command-level replies such
// as WRONGTYPE, which prove the server is reachable.
func isConnError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var redisErr goredis.Error
	return !errors.As(err, &redisErr)
}
