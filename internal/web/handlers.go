package web

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cardcal/cardcal/internal/card"
	"github.com/cardcal/cardcal/internal/config"
	"github.com/cardcal/cardcal/internal/db"
	"github.com/cardcal/cardcal/internal/slots"
	"github.com/cardcal/cardcal/internal/sync"
)

// SyncRunner is the run-control surface the handlers drive.
type SyncRunner interface {
	Run(ctx context.Context, force bool) (*sync.RunResult, error)
	Running() bool
}

// SlotFinder computes candidate appointment windows.
type SlotFinder interface {
	Suggest(ctx context.Context, opts slots.Options) ([]slots.Slot, error)
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	cfg    *config.Config
	db     *db.DB
	runner SyncRunner
	finder SlotFinder
}

// NewHandlers creates the handler set.
func NewHandlers(cfg *config.Config, database *db.DB, runner SyncRunner, finder SlotFinder) *Handlers {
	return &Handlers{
		cfg:    cfg,
		db:     database,
		runner: runner,
		finder: finder,
	}
}

// Liveness is a minimal liveness probe.
func (h *Handlers) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Health reports database reachability and the last run outcome.
func (h *Handlers) Health(c *gin.Context) {
	if err := h.db.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "database": "unreachable"})
		return
	}

	status := gin.H{
		"status":       "ok",
		"database":     "ok",
		"sync_running": h.runner.Running(),
		"sync_enabled": h.cfg.Google.Configured(),
	}

	last, err := h.db.LatestRun("")
	if err == nil {
		status["last_run_ok"] = last.OK
		status["last_run_at"] = last.StartedAt
		if last.Error != "" {
			status["last_run_error"] = last.Error
		}
	}

	c.JSON(http.StatusOK, status)
}

// TriggerSync starts a reconciliation run, or joins the one in flight.
// A force=true query requests a forced resync.
func (h *Handlers) TriggerSync(c *gin.Context) {
	force := c.Query("force") == "true" || c.Query("force") == "1"

	result, err := h.runner.Run(c.Request.Context(), force)
	if err != nil {
		if errors.Is(err, sync.ErrNotConfigured) {
			c.JSON(http.StatusConflict, gin.H{"error": "calendar sync is not configured"})
			return
		}
		log.Printf("Sync run failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "sync run failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// SyncStatus reports the recent run history.
func (h *Handlers) SyncStatus(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	runs, err := h.db.ListRuns(limit)
	if err != nil {
		log.Printf("Failed to list runs: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"running": h.runner.Running(),
		"runs":    runs,
	})
}

// SuggestSlots returns candidate appointment windows.
func (h *Handlers) SuggestSlots(c *gin.Context) {
	opts := slots.Options{
		TimeZone:         h.cfg.Google.TimeZone,
		WorkdayStart:     h.cfg.Slots.WorkdayStart,
		WorkdayEnd:       h.cfg.Slots.WorkdayEnd,
		DurationMin:      h.cfg.Slots.DurationMin,
		TopN:             h.cfg.Slots.TopN,
		WindowDays:       h.cfg.Slots.WindowDays,
		BusinessDaysOnly: h.cfg.Slots.BusinessDaysOnly,
	}

	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 90 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid days"})
			return
		}
		opts.WindowDays = parsed
	}
	if raw := c.Query("top"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 50 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid top"})
			return
		}
		opts.TopN = parsed
	}
	if raw := c.Query("duration"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid duration"})
			return
		}
		opts.DurationMin = parsed
	}
	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from date"})
			return
		}
		opts.From = parsed
	}

	found, err := h.finder.Suggest(c.Request.Context(), opts)
	if err != nil {
		if errors.Is(err, slots.ErrInvalidWindow) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Printf("Slot suggestion failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "slot suggestion failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"slots": found})
}

// cardRequest is the intake payload for creating or amending a card.
type cardRequest struct {
	Title     *string  `json:"title"`
	Address   *string  `json:"address"`
	Location  *string  `json:"location"`
	Phone     *string  `json:"phone"`
	Comments  []string `json:"comments"`
	Sources   []string `json:"sources"`
	Date      *string  `json:"date"`
	TimeLabel *string  `json:"time_label"`
	Status    *string  `json:"status"`
	Hidden    *bool    `json:"hidden"`
}

// CreateCard ingests a new card.
func (h *Handlers) CreateCard(c *gin.Context) {
	var req cardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Title == nil || *req.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}

	newCard := &card.Card{Title: *req.Title}
	if err := applyCardRequest(newCard, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.CreateCard(newCard); err != nil {
		log.Printf("Failed to create card: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create card"})
		return
	}

	if newCard.SyncEligible() {
		h.triggerBackgroundSync()
	}

	c.JSON(http.StatusCreated, newCard)
}

// ListCards returns all cards.
func (h *Handlers) ListCards(c *gin.Context) {
	cards, err := h.db.ListCards()
	if err != nil {
		log.Printf("Failed to list cards: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load cards"})
		return
	}
	if cards == nil {
		cards = []*card.Card{}
	}
	c.JSON(http.StatusOK, gin.H{"cards": cards})
}

// GetCard returns one card.
func (h *Handlers) GetCard(c *gin.Context) {
	found, err := h.db.GetCardByID(c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "card not found"})
		return
	}
	if err != nil {
		log.Printf("Failed to get card: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load card"})
		return
	}
	c.JSON(http.StatusOK, found)
}

// PatchCard amends the card-owned fields. The calendar-linkage fields
// cannot be touched through this endpoint; they belong to the engine.
func (h *Handlers) PatchCard(c *gin.Context) {
	existing, err := h.db.GetCardByID(c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "card not found"})
		return
	}
	if err != nil {
		log.Printf("Failed to get card: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load card"})
		return
	}

	var req cardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := applyCardRequest(existing, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.UpdateCardFields(existing); err != nil {
		log.Printf("Failed to update card: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update card"})
		return
	}

	// A patch can schedule a card or take a linked one out of scope;
	// both need a reconciliation pass.
	if existing.SyncEligible() || existing.EverLinked() {
		h.triggerBackgroundSync()
	}

	c.JSON(http.StatusOK, existing)
}

// triggerBackgroundSync starts a reconciliation pass after a card
// mutation. The runner coalesces it with any run already in flight.
func (h *Handlers) triggerBackgroundSync() {
	go func() {
		if _, err := h.runner.Run(context.Background(), false); err != nil {
			if errors.Is(err, sync.ErrNotConfigured) {
				return
			}
			log.Printf("Post-change sync failed: %v", err)
		}
	}()
}

// applyCardRequest merges the present request fields into the card.
func applyCardRequest(target *card.Card, req *cardRequest) error {
	if req.Title != nil {
		target.Title = *req.Title
	}
	if req.Address != nil {
		target.Address = *req.Address
	}
	if req.Location != nil {
		target.Location = *req.Location
	}
	if req.Phone != nil {
		target.Phone = *req.Phone
	}
	if req.Comments != nil {
		target.Comments = req.Comments
	}
	if req.Sources != nil {
		target.Sources = req.Sources
	}
	if req.Date != nil {
		if *req.Date != "" {
			if _, err := time.Parse("2006-01-02", *req.Date); err != nil {
				return errors.New("date must be in YYYY-MM-DD format")
			}
		}
		target.Date = *req.Date
	}
	if req.TimeLabel != nil {
		if *req.TimeLabel != "" {
			if _, err := time.Parse("15:04", *req.TimeLabel); err != nil {
				return errors.New("time_label must be in HH:MM format")
			}
		}
		target.TimeLabel = *req.TimeLabel
	}
	if req.Status != nil {
		status := card.Status(*req.Status)
		if !status.IsValid() {
			return errors.New("invalid status")
		}
		target.Status = status
	}
	if req.Hidden != nil {
		target.Hidden = *req.Hidden
	}
	return nil
}
