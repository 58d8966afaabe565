package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/code-100-precent/LingClassroom/cmd/bootstrap"
	"github.com/code-100-precent/LingClassroom/pkg/auth"
	"github.com/code-100-precent/LingClassroom/pkg/cache"
	"github.com/code-100-precent/LingClassroom/pkg/config"
	"github.com/code-100-precent/LingClassroom/pkg/devserver"
	"github.com/code-100-precent/LingClassroom/pkg/logger"
	"github.com/code-100-precent/LingClassroom/pkg/scheduler"
	"github.com/code-100-precent/LingClassroom/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

func main() {
	// 1. Print Banner
	if err := bootstrap.PrintBannerFromFile(os.Stdout, "banner.txt"); err != nil {
		log.Fatalf("unload banner: %v", err)
	}

	// 2. Parse Command Line Parameters
	mode := flag.String("mode", "", "running environment (development, test, production)")
	addr := flag.String("addr", "", "HTTP serve address, overrides SERVER_ADDR")
	demo := flag.Duration("demo", 0, "push simulated stats every interval (0 disables)")
	flag.Parse()

	if *mode != "" {
		os.Setenv("APP_ENV", *mode)
	}

	// 3. Load Global Configuration
	if err := config.Load(); err != nil {
		panic("config load failed: " + err.Error())
	}
	cfg := config.GlobalConfig
	if *addr != "" {
		cfg.ServerAddr = *addr
	}

	// 4. Logging
	if err := logger.Init(&cfg.Log, cfg.Mode); err != nil {
		panic(err)
	}
	defer logger.Sync()
	hubLog := logrus.New()
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
		hubLog.SetFormatter(&logrus.JSONFormatter{})
	} else {
		hubLog.SetLevel(logrus.DebugLevel)
	}
	bootstrap.LogConfigInfo(cfg)

	// 5. Stats storage
	store, err := cache.NewCache(cfg.Cache)
	if err != nil {
		logger.Fatal("cache setup failed", zap.Error(err))
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tokens *auth.TokenManager
	if cfg.TokenSecret != "" {
		tokens, err = auth.NewTokenManager(auth.TokenConfig{SecretKey: cfg.TokenSecret, TTL: cfg.TokenTTL})
		if err != nil {
			logger.Fatal("socket token setup failed", zap.Error(err))
		}
	}

	srv, err := devserver.New(ctx, devserver.Options{
		Addr:         cfg.ServerAddr,
		Token:        cfg.APIToken,
		Tokens:       tokens,
		MetricsPath:  cfg.MonitorPrefix,
		Cache:        store,
		RecentWindow: cfg.ProjectorRecentWindow,
		Logger:       logger.Lg,
		HubLogger:    hubLog,
	})
	if err != nil {
		logger.Fatal("devserver setup failed", zap.Error(err))
	}

	// 6. Demo stats pusher
	if *demo > 0 {
		sched := scheduler.NewScheduler(nil)
		if err := sched.AddTask(&scheduler.Task{
			ID:       "demo-stats",
			Name:     "push simulated dashboard stats",
			Schedule: scheduler.Every(*demo),
			Enabled:  true,
			Handler: func(ctx context.Context) error {
				return pushDemoStats(ctx, srv)
			},
		}); err != nil {
			logger.Fatal("demo scheduler setup failed", zap.Error(err))
		}
		sched.Start()
		defer sched.Stop()
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("devserver stopped", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("devserver stopped")
}

func pushDemoStats(ctx context.Context, srv *devserver.Server) error {
	partial := fmt.Sprintf(`{"activeSessions":%d,"systemHealth":%.1f,"updatedAt":%q}`,
		10+rand.IntN(20),
		utils.Clamp(97+rand.Float64()*3, 95, 100),
		time.Now().UTC().Format(time.RFC3339),
	)
	n, err := srv.PushStats(ctx, []byte(partial))
	if err != nil {
		return err
	}
	logger.Debug("demo stats pushed", zap.Int("delivered", n))
	return nil
}
