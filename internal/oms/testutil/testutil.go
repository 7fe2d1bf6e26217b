package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/middleware"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/entity"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	TestSchema = "test_oms"
	JWTSecret  = "oms-test-jwt-secret"
)

// TestEnv holds test environment resources
type TestEnv struct {
	DB     *gorm.DB
	Router *gin.Engine
	T      *testing.T
}

// projectRoot returns the project root directory by looking for go.mod
func projectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func loadEnv() {
	if root := projectRoot(); root != "" {
		godotenv.Load(filepath.Join(root, ".env"))
	}
}

// SetupTestDB opens Postgres on a throwaway schema and migrates every
// order-module table. The test is skipped when no database is reachable.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	loadEnv()

	baseDSN := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable TimeZone=America/Bogota",
		getEnv("DB_HOST", "127.0.0.1"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_USER", "oms"),
		getEnv("DB_PASSWORD", "oms123"),
		getEnv("DB_NAME", "oms"),
	)

	schemaName := fmt.Sprintf("%s_%d", TestSchema, time.Now().UnixNano()%1000000)

	setupDB, err := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Skipf("postgres not reachable: %v", err)
	}
	if err := setupDB.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schemaName)).Error; err != nil {
		t.Skipf("cannot create test schema: %v", err)
	}
	sqlSetup, _ := setupDB.DB()
	sqlSetup.Close()

	// search_path in the DSN so every pooled connection lands in the schema
	db, err := gorm.Open(postgres.Open(baseDSN+" search_path="+schemaName), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := db.AutoMigrate(entity.AllModels()...); err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}
	for _, stmt := range entity.PostMigrations {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("post migration %q: %v", stmt, err)
		}
	}

	t.Cleanup(func() {
		if sqlDB, _ := db.DB(); sqlDB != nil {
			sqlDB.Close()
		}
		cleanDB, cleanErr := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if cleanErr == nil {
			cleanDB.Exec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
			if sqlClean, _ := cleanDB.DB(); sqlClean != nil {
				sqlClean.Close()
			}
		}
	})

	return db
}

// SetupRouter creates a gin test router.
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// AuthGroup creates an API group behind JWTAuth.
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret))
}

// GenerateTestToken signs a token for userID carrying roles.
func GenerateTestToken(userID, name string, roles ...string) string {
	if roles == nil {
		roles = []string{}
	}
	token, _ := middleware.IssueToken(JWTSecret, "oms-test", userID, name, roles, time.Hour)
	return token
}

// DefaultTestToken returns an admin token.
func DefaultTestToken() string {
	return GenerateTestToken("test-admin-001", "Admin Pruebas", "admin")
}

// DoRequest executes an HTTP request against the test router
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse decodes the JSON envelope.
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// SeedOrder inserts an order in status with the given lines.
func SeedOrder(t *testing.T, db *gorm.DB, status, delivery, payment string, total int64, lines ...SeedLine) *entity.Order {
	t.Helper()
	id := newID()
	order := &entity.Order{
		ID:              id,
		OrderNumber:     "FV-" + id[:8],
		CustomerName:    "Cliente Pruebas",
		CustomerPhone:   "3001234567",
		DeliveryMethod:  delivery,
		PaymentMethod:   payment,
		TotalAmount:     decimal.NewFromInt(total),
		Status:          status,
		PackagingStatus: entity.PackagingNotStarted,
		OrderSource:     entity.SourceManual,
		ParsingStatus:   entity.ParsingManual,
	}
	for i, l := range lines {
		order.Items = append(order.Items, entity.OrderItem{
			ID:         newID(),
			OrderID:    id,
			LineNumber: i + 1,
			Name:       l.Name,
			Barcode:    l.Barcode,
			Quantity:   decimal.NewFromInt(l.Quantity),
			UnitPrice:  decimal.NewFromInt(l.UnitPrice),
		})
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("Failed to seed order: %v", err)
	}
	return order
}

// SeedLine is one product line for SeedOrder.
type SeedLine struct {
	Name      string
	Barcode   string
	Quantity  int64
	UnitPrice int64
}

func newID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
