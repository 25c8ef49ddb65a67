// Package generation implements the lifecycle engine that drives a
// generation from submission through model invocation to a terminal state.
package generation

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/pixfusion/pixfusion/internal/invoker"
	"github.com/pixfusion/pixfusion/internal/ledger"
	"github.com/pixfusion/pixfusion/internal/models"
	"github.com/pixfusion/pixfusion/internal/storage"

	"github.com/google/uuid"
)

// Engine errors.
var (
	// ErrNotFound indicates no generation exists with the requested ID.
	ErrNotFound = errors.New("generation: not found")
	// ErrInvalidRequest wraps submission validation failures.
	ErrInvalidRequest = errors.New("generation: invalid request")
)

// ObjectStore is the slice of object storage the engine needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Engine orchestrates the generation lifecycle: claim, invoke, persist,
// finalize. Exactly one worker drives a given generation past the claim
// step; the claim is a compare-and-set on status.
type Engine struct {
	db            *gorm.DB
	invoker       invoker.Invoker
	store         ObjectStore
	cost          int64
	invokeTimeout time.Duration

	wg sync.WaitGroup
}

// NewEngine constructs an Engine. cost is the per-generation credit debit;
// invokeTimeout bounds a single model invocation.
func NewEngine(db *gorm.DB, inv invoker.Invoker, store ObjectStore, cost int64, invokeTimeout time.Duration) *Engine {
	if cost <= 0 {
		cost = 1
	}
	if invokeTimeout <= 0 {
		invokeTimeout = 2 * time.Minute
	}
	return &Engine{
		db:            db,
		invoker:       inv,
		store:         store,
		cost:          cost,
		invokeTimeout: invokeTimeout,
	}
}

// Cost returns the per-generation credit debit.
func (e *Engine) Cost() int64 { return e.cost }

// Submit validates the request, creates the generation in PENDING, and
// dispatches lifecycle execution in the background. It returns as soon as
// the record is durable; callers never wait on the model call.
func (e *Engine) Submit(ctx context.Context, userID, prompt string, format models.OutputFormat, ratio models.Ratio) (*models.Generation, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt", ErrInvalidRequest)
	}
	if len([]rune(prompt)) > models.MaxPromptLength {
		return nil, fmt.Errorf("%w: prompt exceeds %d characters", ErrInvalidRequest, models.MaxPromptLength)
	}
	if !format.Valid() {
		return nil, fmt.Errorf("%w: unsupported output format %q", ErrInvalidRequest, string(format))
	}
	if !ratio.Valid() {
		return nil, fmt.Errorf("%w: unsupported ratio %q", ErrInvalidRequest, string(ratio))
	}

	gen := models.Generation{
		ID:           uuid.NewString(),
		UserID:       userID,
		Prompt:       prompt,
		OutputFormat: format,
		Ratio:        ratio,
		Status:       models.StatusPending,
	}
	if errCreate := e.db.WithContext(ctx).Create(&gen).Error; errCreate != nil {
		return nil, fmt.Errorf("generation: create: %w", errCreate)
	}

	e.Dispatch(gen.ID)
	return &gen, nil
}

// Dispatch runs the lifecycle for id in the background, decoupled from the
// caller's request context. Failures are terminal for the generation and
// are logged here; the engine never retries.
func (e *Engine) Dispatch(id string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if errRun := e.Run(context.Background(), id); errRun != nil {
			log.WithError(errRun).WithField("generation_id", id).Warn("generation failed")
		}
	}()
}

// Wait blocks until all dispatched lifecycles finish.
func (e *Engine) Wait() { e.wg.Wait() }

// Run drives one generation to a terminal state. If the record is no
// longer PENDING the claim loses and Run is a no-op; a missing record is
// an error. The returned error mirrors what was written to the record.
func (e *Engine) Run(ctx context.Context, id string) error {
	gen, claimed, errClaim := e.claim(ctx, id)
	if errClaim != nil {
		return errClaim
	}
	if !claimed {
		return nil
	}

	outputs, errInvoke := e.invoke(ctx, gen)
	if errInvoke != nil {
		return e.fail(ctx, id, fmt.Errorf("model invocation failed: %w", errInvoke))
	}
	if len(outputs) == 0 {
		return e.fail(ctx, id, errors.New("model returned no outputs"))
	}
	out := outputs[0]

	key := storage.BuildKey(gen.UserID, storage.NewToken(), gen.OutputFormat.Ext())
	contentType := out.ContentType
	if contentType == "" {
		contentType = gen.OutputFormat.ContentType()
	}
	if errPut := e.store.Put(ctx, key, out.Data, contentType); errPut != nil {
		return e.fail(ctx, id, fmt.Errorf("store output: %w", errPut))
	}

	if errFinalize := e.finalize(ctx, gen, key, int64(len(out.Data)), contentType); errFinalize != nil {
		return e.fail(ctx, id, errFinalize)
	}
	return nil
}

// claim atomically moves PENDING to IN_PROGRESS. A racing worker observes
// zero rows affected and backs off without further mutation.
func (e *Engine) claim(ctx context.Context, id string) (*models.Generation, bool, error) {
	var gen models.Generation
	errFind := e.db.WithContext(ctx).Where("id = ?", id).First(&gen).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if errFind != nil {
		return nil, false, fmt.Errorf("generation: load %s: %w", id, errFind)
	}
	if gen.Status != models.StatusPending {
		return nil, false, nil
	}

	res := e.db.WithContext(ctx).
		Model(&models.Generation{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Update("status", models.StatusInProgress)
	if res.Error != nil {
		return nil, false, fmt.Errorf("generation: claim %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}
	gen.Status = models.StatusInProgress
	return &gen, true, nil
}

// invoke calls the model with a bounded timeout so a stalled provider
// cannot pin the record in IN_PROGRESS forever.
func (e *Engine) invoke(ctx context.Context, gen *models.Generation) ([]invoker.Output, error) {
	invokeCtx, cancel := context.WithTimeout(ctx, e.invokeTimeout)
	defer cancel()
	return e.invoker.Invoke(invokeCtx, gen.Prompt, gen.OutputFormat, gen.Ratio)
}

// finalize sets COMPLETED with output metadata and debits the generation
// cost in one transaction, so a completed-but-uncharged record cannot be
// observed. An insufficient balance rejects the whole step.
func (e *Engine) finalize(ctx context.Context, gen *models.Generation, key string, size int64, contentType string) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errDebit := ledger.Debit(ctx, tx, gen.UserID, e.cost); errDebit != nil {
			return errDebit
		}
		res := tx.Model(&models.Generation{}).
			Where("id = ? AND status = ?", gen.ID, models.StatusInProgress).
			Updates(map[string]any{
				"status":        models.StatusCompleted,
				"object_key":    key,
				"filename":      path.Base(key),
				"size":          size,
				"content_type":  contentType,
				"error_message": "",
			})
		if res.Error != nil {
			return fmt.Errorf("generation: finalize %s: %w", gen.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("generation: %s no longer in progress at finalize", gen.ID)
		}
		return nil
	})
}

// fail records the terminal failure and hands the cause back to the
// caller. Only an IN_PROGRESS record may transition; terminal records are
// never rewritten.
func (e *Engine) fail(ctx context.Context, id string, cause error) error {
	res := e.db.WithContext(ctx).
		Model(&models.Generation{}).
		Where("id = ? AND status = ?", id, models.StatusInProgress).
		Updates(map[string]any{
			"status":        models.StatusFailed,
			"error_message": truncateMessage(cause.Error(), models.MaxErrorMessageLength),
		})
	if res.Error != nil {
		log.WithError(res.Error).WithField("generation_id", id).Error("failed to record generation failure")
	}
	return cause
}

// truncateMessage keeps the first limit characters of msg.
func truncateMessage(msg string, limit int) string {
	runes := []rune(msg)
	if len(runes) <= limit {
		return msg
	}
	return string(runes[:limit])
}
