package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"userbot/internal/storage"
	logx "userbot/pkg/logx"
	"userbot/pkg/tgui"
)

var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "userbot_router_commands_total",
		Help: "Commands handled, by route and status.",
	}, []string{"route", "status"})
	commandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "userbot_router_command_duration_seconds",
		Help:    "Command handler latency.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"route"})
	watcherErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "userbot_router_watcher_errors_total",
		Help: "Errors returned by message watchers, by plugin.",
	}, []string{"plugin"})
	commandsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "userbot_router_commands_dropped_total",
		Help: "Commands rejected because the worker queue was full.",
	})
)

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if req != nil && !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{
				logx.Int64("chat_id", req.Chat.ID),
				logx.Int64("from_id", req.FromID),
				logx.String("cmd", req.Command),
				logx.Duration("dur", d),
			}
			if err != nil {
				logger.Warn("request failed", append(fields, logx.Err(err))...)
			} else if d >= 750*time.Millisecond {
				logger.Info("request ok", fields...)
			} else {
				logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// MWMetrics counts commands by route and outcome.
func MWMetrics() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			commandDuration.WithLabelValues(req.Command).Observe(time.Since(start).Seconds())
			status := "ok"
			if err != nil {
				status = "error"
			}
			commandsTotal.WithLabelValues(req.Command, status).Inc()
			return err
		}
	}
}

// MWAudit appends one audit entry per command. A nil store disables it.
func MWAudit(st storage.Store, plugin string, log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			if st == nil {
				return err
			}
			e := storage.AuditEntry{
				At:      start,
				ActorID: req.FromID,
				ChatID:  req.Chat.ID,
				Plugin:  plugin,
				Action:  req.Command,
				Args:    req.RawArgs,
				TookMS:  time.Since(start).Milliseconds(),
			}
			if err != nil {
				e.Error = err.Error()
			}
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			if aerr := st.AppendAudit(actx, e); aerr != nil && !errors.Is(aerr, storage.ErrDisabled) {
				log.Debug("audit append failed", logx.Err(aerr))
			}
			cancel()
			return err
		}
	}
}

// MWErrorAnswer answers unhandled handler errors with the generic error line.
// The error is still returned for logging and metrics.
func MWErrorAnswer() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err == nil || errors.Is(err, context.Canceled) {
				return err
			}
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			_ = req.Answer(actx, ErrorHTML(err))
			return err
		}
	}
}

// ErrorHTML renders err as the standard error line.
func ErrorHTML(err error) string {
	return string(tgui.B("❌ Error: " + err.Error()))
}
