package generation

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pixfusion/pixfusion/internal/invoker"
	"github.com/pixfusion/pixfusion/internal/models"
	"github.com/pixfusion/pixfusion/internal/storage"
)

type stubInvoker struct {
	outputs []invoker.Output
	err     error
}

func (s *stubInvoker) Invoke(context.Context, string, models.OutputFormat, models.Ratio) ([]invoker.Output, error) {
	return s.outputs, s.err
}

type failingStore struct{}

func (failingStore) Put(context.Context, string, []byte, string) error {
	return errors.New("bucket unavailable")
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "engine-test.db") + "?_pragma=busy_timeout(5000)"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := conn.AutoMigrate(&models.User{}, &models.Generation{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func seedUser(t *testing.T, conn *gorm.DB, credits int64) models.User {
	t.Helper()
	user := models.User{
		ID:       uuid.NewString(),
		GoogleID: uuid.NewString(),
		Email:    uuid.NewString() + "@example.com",
		Name:     "Test User",
		Credits:  credits,
	}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	return user
}

func seedGeneration(t *testing.T, conn *gorm.DB, userID string, status models.Status) models.Generation {
	t.Helper()
	gen := models.Generation{
		ID:           uuid.NewString(),
		UserID:       userID,
		Prompt:       "a cat",
		OutputFormat: models.FormatPNG,
		Ratio:        models.Ratio1x1,
		Status:       status,
	}
	if errCreate := conn.Create(&gen).Error; errCreate != nil {
		t.Fatalf("create generation: %v", errCreate)
	}
	return gen
}

func reload(t *testing.T, conn *gorm.DB, id string) models.Generation {
	t.Helper()
	var gen models.Generation
	if errFind := conn.Where("id = ?", id).First(&gen).Error; errFind != nil {
		t.Fatalf("reload generation: %v", errFind)
	}
	return gen
}

func TestRunHappyPath(t *testing.T) {
	conn := openTestDB(t)
	user := seedUser(t, conn, 5)
	gen := seedGeneration(t, conn, user.ID, models.StatusPending)

	blob := []byte("png-bytes")
	store := storage.NewMemoryStore()
	engine := NewEngine(conn, &stubInvoker{outputs: []invoker.Output{{Data: blob, ContentType: "image/png"}}}, store, 2, time.Minute)

	if errRun := engine.Run(context.Background(), gen.ID); errRun != nil {
		t.Fatalf("run: %v", errRun)
	}

	got := reload(t, conn, gen.ID)
	if got.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.Size != int64(len(blob)) {
		t.Fatalf("expected size %d, got %d", len(blob), got.Size)
	}
	if got.ContentType != "image/png" {
		t.Fatalf("expected content type image/png, got %s", got.ContentType)
	}
	if got.Filename == "" || !strings.HasSuffix(got.Filename, ".png") {
		t.Fatalf("expected png filename, got %q", got.Filename)
	}

	keyPattern := regexp.MustCompile(`^` + regexp.QuoteMeta(user.ID) + `/outputs/[0-9a-f-]+\.png$`)
	if !keyPattern.MatchString(got.ObjectKey) {
		t.Fatalf("object key %q does not match expected pattern", got.ObjectKey)
	}

	data, errGet := store.Get(context.Background(), got.ObjectKey)
	if errGet != nil {
		t.Fatalf("stored object missing: %v", errGet)
	}
	if string(data) != string(blob) {
		t.Fatalf("stored object does not match invoker output")
	}

	var gotUser models.User
	if errFind := conn.Where("id = ?", user.ID).First(&gotUser).Error; errFind != nil {
		t.Fatalf("reload user: %v", errFind)
	}
	if gotUser.Credits != 3 {
		t.Fatalf("expected balance 3 after debit, got %d", gotUser.Credits)
	}
}

func TestRunZeroOutputsFails(t *testing.T) {
	conn := openTestDB(t)
	user := seedUser(t, conn, 5)
	gen := seedGeneration(t, conn, user.ID, models.StatusPending)

	engine := NewEngine(conn, &stubInvoker{outputs: nil}, storage.NewMemoryStore(), 2, time.Minute)

	if errRun := engine.Run(context.Background(), gen.ID); errRun == nil {
		t.Fatal("expected error for zero outputs")
	}

	got := reload(t, conn, gen.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatal("expected non-empty error message")
	}
	if got.ObjectKey != "" || got.Filename != "" || got.Size != 0 {
		t.Fatal("expected empty output fields on failure")
	}

	var gotUser models.User
	_ = conn.Where("id = ?", user.ID).First(&gotUser).Error
	if gotUser.Credits != 5 {
		t.Fatalf("expected balance unchanged at 5, got %d", gotUser.Credits)
	}
}

func TestRunInvokerErrorFails(t *testing.T) {
	conn := openTestDB(t)
	user := seedUser(t, conn, 5)
	gen := seedGeneration(t, conn, user.ID, models.StatusPending)

	engine := NewEngine(conn, &stubInvoker{err: errors.New("provider timeout")}, storage.NewMemoryStore(), 2, time.Minute)

	if errRun := engine.Run(context.Background(), gen.ID); errRun == nil {
		t.Fatal("expected invocation error")
	}

	got := reload(t, conn, gen.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "provider timeout") {
		t.Fatalf("expected error message to mention cause, got %q", got.ErrorMessage)
	}

	var gotUser models.User
	_ = conn.Where("id = ?", user.ID).First(&gotUser).Error
	if gotUser.Credits != 5 {
		t.Fatalf("expected ledger untouched, got balance %d", gotUser.Credits)
	}
}

func TestRunStorageFailureFails(t *testing.T) {
	conn := openTestDB(t)
	user := seedUser(t, conn, 5)
	gen := seedGeneration(t, conn, user.ID, models.StatusPending)

	engine := NewEngine(conn, &stubInvoker{outputs: []invoker.Output{{Data: []byte{1}, ContentType: "image/png"}}}, failingStore{}, 2, time.Minute)

	if errRun := engine.Run(context.Background(), gen.ID); errRun == nil {
		t.Fatal("expected storage error")
	}

	got := reload(t, conn, gen.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}

	var gotUser models.User
	_ = conn.Where("id = ?", user.ID).First(&gotUser).Error
	if gotUser.Credits != 5 {
		t.Fatalf("expected ledger untouched, got balance %d", gotUser.Credits)
	}
}

func TestRunInsufficientCreditsAtFinalize(t *testing.T) {
	conn := openTestDB(t)
	user := seedUser(t, conn, 1)
	gen := seedGeneration(t, conn, user.ID, models.StatusPending)

	engine := NewEngine(conn, &stubInvoker{outputs: []invoker.Output{{Data: []byte{1}, ContentType: "image/png"}}}, storage.NewMemoryStore(), 2, time.Minute)

	if errRun := engine.Run(context.Background(), gen.ID); errRun == nil {
		t.Fatal("expected insufficient credits error")
	}

	got := reload(t, conn, gen.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "insufficient credits") {
		t.Fatalf("expected insufficient credits message, got %q", got.ErrorMessage)
	}

	var gotUser models.User
	_ = conn.Where("id = ?", user.ID).First(&gotUser).Error
	if gotUser.Credits != 1 {
		t.Fatalf("expected balance unchanged at 1, got %d", gotUser.Credits)
	}
}

func TestRunAlreadyClaimedIsNoOp(t *testing.T) {
	conn := openTestDB(t)
	user := seedUser(t, conn, 5)
	gen := seedGeneration(t, conn, user.ID, models.StatusInProgress)

	engine := NewEngine(conn, &stubInvoker{outputs: []invoker.Output{{Data: []byte{1}, ContentType: "image/png"}}}, storage.NewMemoryStore(), 2, time.Minute)

	if errRun := engine.Run(context.Background(), gen.ID); errRun != nil {
		t.Fatalf("expected no-op, got %v", errRun)
	}

	got := reload(t, conn, gen.ID)
	if got.Status != models.StatusInProgress {
		t.Fatalf("expected status untouched, got %s", got.Status)
	}
}

type countingInvoker struct {
	calls   int32
	outputs []invoker.Output
}

func (c *countingInvoker) Invoke(context.Context, string, models.OutputFormat, models.Ratio) ([]invoker.Output, error) {
	atomic.AddInt32(&c.calls, 1)
	// Hold the claim long enough for the losing worker to observe it.
	time.Sleep(20 * time.Millisecond)
	return c.outputs, nil
}

func TestRunConcurrentClaimSingleWinner(t *testing.T) {
	conn := openTestDB(t)
	user := seedUser(t, conn, 5)
	gen := seedGeneration(t, conn, user.ID, models.StatusPending)

	inv := &countingInvoker{outputs: []invoker.Output{{Data: []byte("img"), ContentType: "image/png"}}}
	engine := NewEngine(conn, inv, storage.NewMemoryStore(), 2, time.Minute)

	start := make(chan struct{})
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			<-start
			results <- engine.Run(context.Background(), gen.ID)
		}()
	}
	close(start)

	for i := 0; i < 2; i++ {
		if errRun := <-results; errRun != nil {
			t.Fatalf("run: %v", errRun)
		}
	}

	if calls := atomic.LoadInt32(&inv.calls); calls != 1 {
		t.Fatalf("expected exactly one invocation, got %d", calls)
	}

	got := reload(t, conn, gen.ID)
	if got.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}

	var gotUser models.User
	_ = conn.Where("id = ?", user.ID).First(&gotUser).Error
	if gotUser.Credits != 3 {
		t.Fatalf("expected exactly one debit leaving balance 3, got %d", gotUser.Credits)
	}
}

func TestRunTerminalStateIsNoOp(t *testing.T) {
	conn := openTestDB(t)
	user := seedUser(t, conn, 5)
	gen := seedGeneration(t, conn, user.ID, models.StatusCompleted)

	engine := NewEngine(conn, &stubInvoker{err: errors.New("should not be called")}, storage.NewMemoryStore(), 2, time.Minute)

	if errRun := engine.Run(context.Background(), gen.ID); errRun != nil {
		t.Fatalf("expected no-op, got %v", errRun)
	}

	got := reload(t, conn, gen.ID)
	if got.Status != models.StatusCompleted {
		t.Fatalf("expected status untouched, got %s", got.Status)
	}
}

func TestRunUnknownGeneration(t *testing.T) {
	conn := openTestDB(t)
	engine := NewEngine(conn, &stubInvoker{}, storage.NewMemoryStore(), 1, time.Minute)

	errRun := engine.Run(context.Background(), uuid.NewString())
	if !errors.Is(errRun, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", errRun)
	}
}

func TestRunTruncatesLongErrorMessages(t *testing.T) {
	conn := openTestDB(t)
	user := seedUser(t, conn, 5)
	gen := seedGeneration(t, conn, user.ID, models.StatusPending)

	longMsg := strings.Repeat("x", 4000)
	engine := NewEngine(conn, &stubInvoker{err: errors.New(longMsg)}, storage.NewMemoryStore(), 2, time.Minute)

	if errRun := engine.Run(context.Background(), gen.ID); errRun == nil {
		t.Fatal("expected error")
	}

	got := reload(t, conn, gen.ID)
	if len([]rune(got.ErrorMessage)) != models.MaxErrorMessageLength {
		t.Fatalf("expected message truncated to %d characters, got %d", models.MaxErrorMessageLength, len([]rune(got.ErrorMessage)))
	}
	// Truncation keeps the head of the message, not the tail.
	if !strings.HasPrefix(got.ErrorMessage, "model invocation failed: xxx") {
		t.Fatalf("expected head of message preserved, got %q", got.ErrorMessage[:40])
	}
}

func TestSubmitCreatesAndCompletes(t *testing.T) {
	conn := openTestDB(t)
	user := seedUser(t, conn, 5)

	store := storage.NewMemoryStore()
	engine := NewEngine(conn, &stubInvoker{outputs: []invoker.Output{{Data: []byte("img"), ContentType: "image/png"}}}, store, 1, time.Minute)

	gen, errSubmit := engine.Submit(context.Background(), user.ID, "a cat", models.FormatPNG, models.Ratio1x1)
	if errSubmit != nil {
		t.Fatalf("submit: %v", errSubmit)
	}
	if gen.Status != models.StatusPending {
		t.Fatalf("expected pending at submit time, got %s", gen.Status)
	}

	engine.Wait()

	got := reload(t, conn, gen.ID)
	if got.Status != models.StatusCompleted {
		t.Fatalf("expected completed after dispatch, got %s", got.Status)
	}
}

func TestSubmitValidation(t *testing.T) {
	conn := openTestDB(t)
	user := seedUser(t, conn, 5)
	engine := NewEngine(conn, &stubInvoker{}, storage.NewMemoryStore(), 1, time.Minute)
	ctx := context.Background()

	cases := []struct {
		name   string
		prompt string
		format models.OutputFormat
		ratio  models.Ratio
	}{
		{"empty prompt", "", models.FormatPNG, models.Ratio1x1},
		{"prompt too long", strings.Repeat("p", models.MaxPromptLength+1), models.FormatPNG, models.Ratio1x1},
		{"bad format", "a cat", models.OutputFormat("gif"), models.Ratio1x1},
		{"bad ratio", "a cat", models.FormatPNG, models.Ratio("2:1")},
	}
	for _, tc := range cases {
		if _, errSubmit := engine.Submit(ctx, user.ID, tc.prompt, tc.format, tc.ratio); !errors.Is(errSubmit, ErrInvalidRequest) {
			t.Fatalf("%s: expected ErrInvalidRequest, got %v", tc.name, errSubmit)
		}
	}
}
