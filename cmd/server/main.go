package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/shiftpay/lifecycle-api-go/internal/clock"
	"github.com/shiftpay/lifecycle-api-go/internal/scheduler"
	"github.com/shiftpay/lifecycle-api-go/pkg/auth"
	"github.com/shiftpay/lifecycle-api-go/pkg/database"
	"github.com/shiftpay/lifecycle-api-go/pkg/handlers"
	"github.com/shiftpay/lifecycle-api-go/pkg/lifecycle"
	"github.com/shiftpay/lifecycle-api-go/pkg/metrics"
)

func main() {
	// Load .env if it exists
	// Try root and parent directories for flexibility
	envPaths := []string{".env", "../.env", "../../.env"}
	for _, p := range envPaths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			break
		}
	}

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	db := database.InitDB()
	_ = auth.EnsureAdminExists(db)

	engine := lifecycle.New(db, clock.Real{}, configFromEnv())
	sched := scheduler.New(engine, jobsFromEnv())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	sched.Start(ctx)

	h := &handlers.Handler{DB: db, Engine: engine, Sched: sched}

	r := gin.Default()

	// Routes
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Shift Lifecycle API",
			"version": "1.2.0",
			"rules":   lifecycle.Rules(),
		})
	})

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", metrics.Handler())
	r.POST("/admin/login", h.Login)

	// Admin Endpoints
	admin := r.Group("/admin")
	admin.Use(h.AuthMiddleware())
	{
		admin.POST("/keys", h.GenerateKey)
		admin.GET("/keys", h.ListKeys)
		admin.PUT("/keys/:id", h.UpdateKeyLimit)
		admin.DELETE("/keys/:id", h.RevokeKey)
		admin.GET("/usage/:id", h.GetUsage)
		admin.GET("/payouts/stuck", h.StuckPayouts)
		admin.GET("/refunds/failed", h.FailedRefunds)
	}

	// Lifecycle Endpoints
	api := r.Group("/api")
	api.Use(h.ServiceKeyMiddleware())
	{
		api.POST("/run/:rule", h.RunRule)
		api.GET("/runs", h.ListRuns)
		api.POST("/validate", h.ValidateShift)
		api.GET("/usage", h.GetMyUsage)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}

	srv := &http.Server{Addr: ":" + port, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Server starting on port %s", port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("could not run server: %v", err)
	}

	sched.Wait()
	log.Println("shutdown complete")
}

// configFromEnv builds the rule windows, with env overrides
func configFromEnv() lifecycle.Config {
	cfg := lifecycle.DefaultConfig()
	cfg.ClockOutGrace = envDuration("CLOCK_OUT_GRACE", cfg.ClockOutGrace)
	cfg.NoShowGrace = envDuration("NO_SHOW_GRACE", cfg.NoShowGrace)
	cfg.EscrowDwell = envDuration("ESCROW_DWELL", cfg.EscrowDwell)
	cfg.PayoutDwell = envDuration("PAYOUT_DWELL", cfg.PayoutDwell)
	cfg.RefundCutoff = envDuration("REFUND_CUTOFF", cfg.RefundCutoff)
	cfg.BreakThreshold = envDuration("BREAK_THRESHOLD", cfg.BreakThreshold)
	cfg.BatchTimeout = envDuration("BATCH_TIMEOUT", cfg.BatchTimeout)
	cfg.PoolSize = envInt("BATCH_POOL_SIZE", cfg.PoolSize)
	cfg.MaxRefundAttempts = envInt("MAX_REFUND_ATTEMPTS", cfg.MaxRefundAttempts)
	cfg.MaxPayoutFailures = envInt("MAX_PAYOUT_FAILURES", cfg.MaxPayoutFailures)
	return cfg
}

// jobsFromEnv builds the cadence table, with env overrides per rule
func jobsFromEnv() []scheduler.Job {
	jobs := scheduler.DefaultJobs()
	for i := range jobs {
		key := "CADENCE_" + strings.ToUpper(jobs[i].Rule)
		jobs[i].Every = envDuration(key, jobs[i].Every)
	}
	return jobs
}

func envDuration(name string, def time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("ignoring invalid %s=%q", name, v)
	}
	return def
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("ignoring invalid %s=%q", name, v)
	}
	return def
}
