package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pixfusion/pixfusion/internal/auth"
	"github.com/pixfusion/pixfusion/internal/generation"
	"github.com/pixfusion/pixfusion/internal/invoker"
	"github.com/pixfusion/pixfusion/internal/models"
	"github.com/pixfusion/pixfusion/internal/ratelimit"
	"github.com/pixfusion/pixfusion/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSessionSecret = "unit-test-session-secret"

type stubInvoker struct {
	outputs []invoker.Output
	err     error
}

func (s *stubInvoker) Invoke(context.Context, string, models.OutputFormat, models.Ratio) ([]invoker.Output, error) {
	return s.outputs, s.err
}

// testEnv bundles everything a handler test needs: a router with the
// production route layout, the backing database, and the object store.
type testEnv struct {
	db       *gorm.DB
	store    *storage.MemoryStore
	engine   *generation.Engine
	sessions *auth.Sessions
	router   *gin.Engine
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "handlers-test.db")
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := conn.AutoMigrate(&models.User{}, &models.Generation{}, &models.PaymentEvent{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func newTestEnv(t *testing.T, inv invoker.Invoker, limiter *ratelimit.Manager, submitPerMinute int) *testEnv {
	t.Helper()

	conn := openTestDB(t)
	store := storage.NewMemoryStore()
	if inv == nil {
		inv = &stubInvoker{outputs: []invoker.Output{{Data: []byte("image-bytes"), ContentType: "image/png"}}}
	}
	engine := generation.NewEngine(conn, inv, store, 1, time.Minute)

	sessions, errSessions := auth.NewSessions(testSessionSecret, time.Hour)
	if errSessions != nil {
		t.Fatalf("sessions: %v", errSessions)
	}

	router := gin.New()
	paymentHandler := NewPaymentHandler(conn)
	router.POST("/payments/lemonsqueezy/callback", paymentHandler.Callback)

	authed := router.Group("")
	authed.Use(auth.RequireUser(sessions, conn))
	authed.GET("/payments/credits/:units", paymentHandler.Checkout)

	generationHandler := NewGenerationHandler(conn, engine, store, limiter, submitPerMinute)
	authed.POST("/api/generations", generationHandler.Create)
	authed.GET("/api/generations", generationHandler.List)
	authed.GET("/api/generations/:id", generationHandler.Get)
	authed.GET("/api/generations/:id/status", generationHandler.Status)
	authed.GET("/api/generations/:id/download", generationHandler.Download)
	authed.DELETE("/api/generations/:id", generationHandler.Delete)

	return &testEnv{db: conn, store: store, engine: engine, sessions: sessions, router: router}
}

func (env *testEnv) seedUser(t *testing.T, credits int64) models.User {
	t.Helper()
	user := models.User{
		ID:       uuid.NewString(),
		GoogleID: uuid.NewString(),
		Email:    uuid.NewString() + "@example.com",
		Name:     "Test User",
		Credits:  credits,
	}
	if errCreate := env.db.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	return user
}

func (env *testEnv) sessionCookie(t *testing.T, userID string) *http.Cookie {
	t.Helper()
	token, errIssue := env.sessions.Issue(userID)
	if errIssue != nil {
		t.Fatalf("issue session: %v", errIssue)
	}
	return &http.Cookie{Name: auth.SessionCookie, Value: token}
}

func (env *testEnv) do(t *testing.T, method, target string, body io.Reader, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) reloadUser(t *testing.T, id string) models.User {
	t.Helper()
	var user models.User
	if errFind := env.db.Where("id = ?", id).First(&user).Error; errFind != nil {
		t.Fatalf("reload user: %v", errFind)
	}
	return user
}

func (env *testEnv) seedGeneration(t *testing.T, userID string, status models.Status) models.Generation {
	t.Helper()
	gen := models.Generation{
		ID:           uuid.NewString(),
		UserID:       userID,
		Prompt:       "a lighthouse at dusk",
		OutputFormat: models.FormatPNG,
		Ratio:        models.Ratio1x1,
		Status:       status,
	}
	if status == models.StatusCompleted {
		key := storage.BuildKey(userID, storage.NewToken(), "png")
		if errPut := env.store.Put(context.Background(), key, []byte("image-bytes"), "image/png"); errPut != nil {
			t.Fatalf("put object: %v", errPut)
		}
		gen.ObjectKey = key
		gen.Filename = filepath.Base(key)
		gen.Size = int64(len("image-bytes"))
		gen.ContentType = "image/png"
	}
	if errCreate := env.db.Create(&gen).Error; errCreate != nil {
		t.Fatalf("create generation: %v", errCreate)
	}
	return gen
}
