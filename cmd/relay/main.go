// Command relay 实时聊天中继服务
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/relay"
	"github.com/tokmz/relay/middleware"
	"github.com/tokmz/relay/pkg/archive"
	"github.com/tokmz/relay/pkg/auth"
	"github.com/tokmz/relay/pkg/chat"
	"github.com/tokmz/relay/pkg/config"
	"github.com/tokmz/relay/pkg/gateway"
	"github.com/tokmz/relay/pkg/logger"
	"github.com/tokmz/relay/pkg/tracing"
	"github.com/tokmz/relay/pkg/ws"
)

func main() {
	configFile := flag.String("config", "", "config file (default ./relay.yaml or ./configs/relay.yaml)")
	printConfig := flag.Bool("print-config", false, "print the effective configuration as YAML and exit")
	flag.Parse()

	if err := run(*configFile, *printConfig); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string, printConfig bool) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	var (
		cfg *config.Config
		log logger.Logger
	)
	// 监听在 log 创建之后才启动
	cfg = newConfigLoader(configFile, func() { reloadLogLevel(cfg, log) })
	if err := cfg.Load(); err != nil {
		return err
	}
	defer cfg.Close()

	if printConfig {
		if cfg.GetString("auth.secret") != "" {
			cfg.Set("auth.secret", "******")
		}
		out, err := cfg.DumpYAML()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	}

	s, err := loadSettings(cfg)
	if err != nil {
		return err
	}

	logCfg, err := s.Log.loggerConfig()
	if err != nil {
		return err
	}
	log, err = logger.New(logCfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if cfg.ConfigFileUsed() != "" {
		cfg.StartWatch()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.New(ctx, &s.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing(tp, log)

	sinks, err := archive.Open(ctx, s.Archive)
	if err != nil {
		return err
	}
	recorder := archive.NewRecorder(s.Archive, log, sinks...)
	defer func() {
		if err := recorder.Close(); err != nil {
			log.Warn("close archive", zap.Error(err))
		}
	}()

	authn := auth.New(s.Auth)
	counters := &ws.Counters{}
	hub, err := ws.NewHub(authn,
		ws.WithLogger(log),
		ws.WithMetrics(counters),
		ws.WithCheckOriginWhitelist(s.WS.AllowedOrigins),
		ws.WithMaxConnections(s.WS.MaxConnections),
		ws.WithMessageSizeLimit(s.WS.MaxMessageSize),
		ws.WithMessageQueueSize(s.WS.QueueSize),
		ws.WithHeartbeat(s.WS.HeartbeatInterval, s.WS.HeartbeatTimeout),
		ws.WithEnableCompression(s.WS.Compression),
	)
	if err != nil {
		return err
	}

	regOpts := []chat.RegistryOption{chat.WithLogger(log)}
	if len(sinks) > 0 {
		regOpts = append(regOpts, chat.WithObserver(recorder))
	}
	manager := chat.NewManager(chat.NewRegistry(hub, regOpts...), hub, log)

	gw, err := gateway.New(s.Gateway, hub, manager, authn,
		gateway.WithLogger(log),
		gateway.WithCounters(counters),
		gateway.WithHistory(recorder),
	)
	if err != nil {
		return err
	}
	hub.Run()

	engine := relay.Default(
		relay.WithAppName(s.App.Name),
		relay.WithMode(s.App.Mode),
		relay.WithBanner(s.App.Banner),
		relay.WithAddr(s.Server.Addr),
		relay.WithReadTimeout(s.Server.ReadTimeout),
		relay.WithIdleTimeout(s.Server.IdleTimeout),
		relay.WithShutdownTimeout(s.Shutdown),
		relay.WithLogger(log),
		// 先断开 WebSocket，否则 http.Server.Shutdown 会一直等待被劫持的连接
		relay.WithBeforeShutdown(func(ctx context.Context) {
			if err := hub.Shutdown(ctx); err != nil {
				log.Warn("hub shutdown", zap.Error(err))
			}
		}),
	)
	engine.Use(
		middleware.CORS(&middleware.CORSConfig{
			AllowOrigins:     s.Gateway.AllowOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-User-Id", "X-User-Name"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
		middleware.Tracing(&middleware.TracingConfig{ExcludePaths: []string{"/ws", "/api/health"}}),
	)
	gw.Mount(engine.RouterGroup())

	log.Info("relay starting",
		zap.String("addr", s.Server.Addr),
		zap.String("environment", s.App.Environment),
		zap.Int("archive_sinks", len(sinks)),
		zap.Bool("dev_tokens", authn.DevTokens()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return recorder.Run(gctx) })
	return g.Wait()
}

// reloadLogLevel 配置文件变更时只热更新日志级别，其它配置需要重启
func reloadLogLevel(cfg *config.Config, log logger.Logger) {
	level, err := logger.ParseLevel(cfg.GetString("log.level"))
	if err != nil {
		log.Warn("ignore invalid log level", zap.Error(err))
		return
	}
	if level != log.Level() {
		log.SetLevel(level)
		log.Info("log level changed", zap.String("level", level.String()))
	}
}

func shutdownTracing(tp *tracing.Provider, log logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		log.Warn("tracing shutdown", zap.Error(err))
	}
}
