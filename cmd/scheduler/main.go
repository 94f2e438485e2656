package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wfmiles/miles-ledger/internal/config"
	"github.com/wfmiles/miles-ledger/pkg/worker"
)

// RunStatus represents the lifecycle of a crediting sweep.
type RunStatus string

const (
	StatusRunning  RunStatus = "RUNNING"
	StatusFinished RunStatus = "FINISHED"
)

// subscription is the slice of the ledger API contract the sweeper needs.
type subscription struct {
	ID        int64 `json:"id"`
	AccountID int64 `json:"account_id"`
	ProgramID int64 `json:"program_id"`
}

type creditRequest struct {
	ReferencePeriod string `json:"reference_period"`
}

type creditResponse struct {
	Credited bool `json:"credited"`
}

// Run tracks one sweep over the active contracts.
type Run struct {
	ID         string    `json:"run_id"`
	Period     string    `json:"reference_period"`
	Status     RunStatus `json:"status"`
	Total      int       `json:"total"`
	Credited   int       `json:"credited"`
	Replayed   int       `json:"replayed"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

func (r *Run) done() int { return r.Credited + r.Replayed + r.Failed }

type creditJob struct {
	runID        string
	subscription subscription
	period       string
}

// Sweeper drives the monthly crediting protocol through the ledger API.
// One HTTP call per active contract; the API's own idempotency makes a
// replayed or doubled sweep harmless.
type Sweeper struct {
	baseURL string
	client  *http.Client
	pool    *worker.WorkerManager

	mu   sync.Mutex
	runs map[string]*Run
}

func NewSweeper(baseURL string, timeout time.Duration, concurrency int) *Sweeper {
	s := &Sweeper{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		runs:    make(map[string]*Run),
	}
	s.pool = worker.NewWorkerManager(1024, concurrency, nil)
	s.pool.SetWorker(s.process)
	return s
}

// Trigger lists the active contracts and fans the credit calls out to the
// worker pool. Returns immediately with the run record.
func (s *Sweeper) Trigger(period string) (*Run, error) {
	subs, err := s.listSubscriptions()
	if err != nil {
		return nil, err
	}

	run := &Run{
		ID:        uuid.New().String(),
		Period:    period,
		Status:    StatusRunning,
		Total:     len(subs),
		StartedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()

	if len(subs) == 0 {
		s.finish(run.ID)
		return s.snapshot(run.ID), nil
	}

	for _, sub := range subs {
		s.pool.Enqueue(creditJob{runID: run.ID, subscription: sub, period: period})
	}
	return s.snapshot(run.ID), nil
}

func (s *Sweeper) listSubscriptions() ([]subscription, error) {
	resp, err := s.client.Get(s.baseURL + "/api/v1/subscriptions")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing subscriptions: ledger api returned %d", resp.StatusCode)
	}
	var subs []subscription
	if err := json.NewDecoder(resp.Body).Decode(&subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// process is the worker handler. It posts one credit call and folds the
// outcome into the run record.
func (s *Sweeper) process(workerIndex int, job interface{}) {
	j, ok := job.(creditJob)
	if !ok {
		return
	}

	outcome, err := s.credit(j.subscription.ID, j.period)
	s.mu.Lock()
	run := s.runs[j.runID]
	finished := false
	if run != nil {
		switch {
		case err != nil:
			run.Failed++
		case outcome:
			run.Credited++
		default:
			run.Replayed++
		}
		finished = run.done() >= run.Total
	}
	s.mu.Unlock()

	if err != nil {
		log.Error().
			Err(err).
			Int("worker", workerIndex).
			Int64("subscription_id", j.subscription.ID).
			Str("period", j.period).
			Msg("credit call failed")
	} else {
		log.Info().
			Int("worker", workerIndex).
			Int64("subscription_id", j.subscription.ID).
			Int64("account_id", j.subscription.AccountID).
			Int64("program_id", j.subscription.ProgramID).
			Str("period", j.period).
			Bool("credited", outcome).
			Msg("subscription processed")
	}

	if finished {
		s.finish(j.runID)
	}
}

// credit returns true when this call created the monthly transaction and
// false when the period was already closed.
func (s *Sweeper) credit(subscriptionID int64, period string) (bool, error) {
	body, err := json.Marshal(creditRequest{ReferencePeriod: period})
	if err != nil {
		return false, err
	}
	url := fmt.Sprintf("%s/api/v1/subscriptions/%d/credit", s.baseURL, subscriptionID)
	resp, err := s.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		return true, nil
	case http.StatusOK:
		var cr creditResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			return false, err
		}
		return cr.Credited, nil
	case http.StatusConflict:
		// A concurrent correction beat us. The next sweep picks it up.
		return false, nil
	default:
		return false, fmt.Errorf("crediting subscription %d: ledger api returned %d", subscriptionID, resp.StatusCode)
	}
}

func (s *Sweeper) finish(runID string) {
	s.mu.Lock()
	run := s.runs[runID]
	if run != nil && run.Status != StatusFinished {
		run.Status = StatusFinished
		run.FinishedAt = time.Now().UTC()
		log.Info().
			Str("run_id", run.ID).
			Str("period", run.Period).
			Int("total", run.Total).
			Int("credited", run.Credited).
			Int("replayed", run.Replayed).
			Int("failed", run.Failed).
			Dur("elapsed", run.FinishedAt.Sub(run.StartedAt)).
			Msg("sweep finished")
	}
	s.mu.Unlock()
}

func (s *Sweeper) snapshot(runID string) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil
	}
	copied := *run
	return &copied
}

// Handler exposes the sweeper over HTTP.
type Handler struct {
	sweeper *Sweeper
}

func NewHandler(sweeper *Sweeper) *Handler {
	return &Handler{sweeper: sweeper}
}

// TriggerRun starts a sweep. The period defaults to the current month.
func (h *Handler) TriggerRun(c *gin.Context) {
	var req struct {
		ReferencePeriod string `json:"reference_period"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request",
				"details": err.Error(),
			})
			return
		}
	}

	period := req.ReferencePeriod
	if period == "" {
		period = time.Now().UTC().Format("2006-01")
	}

	log.Info().Str("period", period).Msg("Received sweep trigger")

	run, err := h.sweeper.Trigger(period)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Failed to start sweep",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusAccepted, run)
}

// GetRun reports the state of one sweep.
func (h *Handler) GetRun(c *gin.Context) {
	runID := c.Param("run_id")
	run := h.sweeper.snapshot(runID)
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "run not found",
		})
		return
	}
	c.JSON(http.StatusOK, run)
}

// HealthCheck reports scheduler liveness and queue depth.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"queued":    h.sweeper.pool.GetUnreadCount(),
		"timestamp": time.Now().UTC(),
	})
}

// SetupRouter configures all routes
func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	// Add request logging middleware
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Msg("Request processed")
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/runs", handler.TriggerRun)
		v1.GET("/runs/:run_id", handler.GetRun)
		v1.GET("/health", handler.HealthCheck)
	}

	// Root health check
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := config.Load(argContainsEnvPath()); err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	baseURL := config.Get().SchedulerApiBaseUrl
	if baseURL == "" {
		log.Fatal().Msg("SCHEDULER_API_BASE_URL is required")
	}

	log.Info().
		Str("api_base_url", baseURL).
		Str("listen_addr", config.Get().SchedulerListenAddr).
		Int("concurrency", config.Get().SchedulerConcurrency).
		Msg("Starting crediting scheduler")

	sweeper := NewSweeper(baseURL, config.Get().SchedulerHttpTimeout, config.Get().SchedulerConcurrency)
	go func() {
		if err := sweeper.pool.Start(); err != nil {
			log.Info().Err(err).Msg("Worker pool stopped")
		}
	}()

	handler := NewHandler(sweeper)
	router := SetupRouter(handler)

	srv := &http.Server{
		Addr:         config.Get().SchedulerListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	sweeper.pool.Exit()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				log.Error().Err(err).Msg("Failed to open the passed env file")
				return ""
			}
			return s[1]
		}
	}
	return ""
}
