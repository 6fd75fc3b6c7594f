package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shiftpay/lifecycle-api-go/internal/clock"
	"github.com/shiftpay/lifecycle-api-go/pkg/database"
	"github.com/shiftpay/lifecycle-api-go/pkg/lifecycle"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	database.Migrate(db)

	cfg := lifecycle.DefaultConfig()
	cfg.PoolSize = 1
	engine := lifecycle.New(db, clock.NewFake(time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)), cfg)
	return &Handler{DB: db, Engine: engine}
}

func TestRunRuleRespectsKeyScope(t *testing.T) {
	h := newTestHandler(t)

	key := &database.ServiceKey{
		Key:          "payments-cron.sig",
		Name:         "payments-cron",
		AllowedRules: lifecycle.RuleEscrowRelease,
	}
	router := gin.New()
	router.POST("/api/run/:rule", func(c *gin.Context) { c.Set("serviceKey", key) }, h.RunRule)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/run/"+lifecycle.RuleRefundDetection, nil))
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for a rule outside the key scope, got %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/run/"+lifecycle.RuleEscrowRelease, nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for the scoped rule, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRunRuleUnscopedKeyRunsAnyRule(t *testing.T) {
	h := newTestHandler(t)

	key := &database.ServiceKey{Key: "ops.sig", Name: "ops"}
	router := gin.New()
	router.POST("/api/run/:rule", func(c *gin.Context) { c.Set("serviceKey", key) }, h.RunRule)

	for _, rule := range lifecycle.Rules() {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/run/"+rule, nil))
		if w.Code != http.StatusOK {
			t.Errorf("Expected 200 for %s with an unscoped key, got %d", rule, w.Code)
		}
	}
}
