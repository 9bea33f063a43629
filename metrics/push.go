package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

// PushConfig configures pushing metrics to a prometheus push gateway.
type PushConfig struct {
	URL      string            `mapstructure:"url" yaml:"url"`
	Username string            `mapstructure:"username" yaml:"username"`
	Password string            `mapstructure:"password" yaml:"password"`
	Headers  map[string]string `mapstructure:"headers" yaml:"headers"`
	Period   time.Duration     `mapstructure:"period" yaml:"period"`
}

// StartPushing pushes metrics to the gateway with the configured period
// until the context is canceled.
func StartPushing(ctx context.Context, cfg PushConfig, instance string, logger *zap.Logger) {
	header := http.Header{}
	for k, v := range cfg.Headers {
		header.Add(k, v)
	}
	pusher := push.New(cfg.URL, Namespace).Gatherer(prometheus.DefaultGatherer).
		Grouping("instance", instance).
		Header(header)
	if cfg.Username != "" && cfg.Password != "" {
		pusher = pusher.BasicAuth(cfg.Username, cfg.Password)
	}
	go func() {
		ticker := time.NewTicker(cfg.Period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := pusher.PushContext(ctx); err != nil {
					logger.Warn("failed to push metrics", zap.Error(err))
				}
			}
		}
	}()
}
