package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/freightwise/logistics-cli/internal/model"
	"github.com/freightwise/logistics-cli/internal/notify"
	"github.com/freightwise/logistics-cli/internal/store"
	"github.com/freightwise/logistics-cli/pkg/telegram"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and Telegram webhook server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		// Periodic housekeeping: drop settled dedup entries and expired
		// cache entries.
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					env.Pipeline.Sweep()
					env.Cache.Purge()
				}
			}
		}()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.RealIP)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))

		r.Get("/health", handleHealth)
		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/inquiries", handleSubmitInquiry(env))
			r.Get("/runs", handleListRuns(env))
			r.Get("/runs/{id}", handleGetRun(env))
			r.Get("/providers", handleProviderStates(env))
		})
		r.Post("/webhook/telegram", handleTelegramWebhook(env))

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmitInquiry accepts an inquiry and either waits for the report or,
// with ?async=1, returns the run ID immediately.
func handleSubmitInquiry(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Description string  `json:"description"`
			Category    string  `json:"category"`
			WeightKg    float64 `json:"weight_kg"`
			VolumeM3    float64 `json:"volume_m3"`
			Origin      string  `json:"origin"`
			Destination string  `json:"destination"`
			Supplier    string  `json:"supplier"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		inquiry := model.Inquiry{
			Description: req.Description,
			Category:    model.CargoCategory(req.Category),
			WeightKg:    req.WeightKg,
			VolumeM3:    req.VolumeM3,
			Origin:      req.Origin,
			Destination: req.Destination,
			Supplier:    req.Supplier,
		}
		if err := inquiry.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if r.URL.Query().Get("async") == "1" {
			runID, started, err := env.Pipeline.SubmitAsync(inquiry)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]any{
				"run_id":  runID,
				"started": started,
			})
			return
		}

		run, err := env.Pipeline.Submit(r.Context(), inquiry)
		if err != nil {
			status := http.StatusBadGateway
			if eris.Is(err, model.ErrEnrichmentInsufficient) || eris.Is(err, model.ErrSynthesisFatal) {
				status = http.StatusFailedDependency
			}
			writeJSON(w, status, map[string]any{
				"error": err.Error(),
				"run":   run,
			})
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func handleGetRun(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := env.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func handleListRuns(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := store.RunFilter{
			State:     model.RunState(r.URL.Query().Get("state")),
			InquiryID: r.URL.Query().Get("inquiry_id"),
		}
		runs, err := env.Store.ListRuns(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list runs failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
	}
}

// handleProviderStates exposes circuit breaker states for operators.
func handleProviderStates(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		states := env.Caller.Breakers().States()
		out := make(map[string]string, len(states))
		for kind, state := range states {
			out[string(kind)] = state.String()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"breakers":   out,
			"cache_size": env.Cache.Len(),
		})
	}
}

// handleTelegramWebhook parses bot updates of the form
// "description; weight; origin; destination[; supplier]" and replies with
// the finished report in the same chat.
func handleTelegramWebhook(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}
		update, err := telegram.ParseUpdate(body)
		if err != nil || update.Message == nil || update.Message.Text == "" {
			// Telegram expects 200 for updates we choose to ignore.
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}

		chatID := update.Message.Chat.ID
		inquiry, err := parseInquiryText(update.Message.Text)
		if err != nil {
			go replyTelegram(env, chatID, "Could not parse the inquiry: "+err.Error()+
				"\nFormat: description; weight_kg; origin; destination[; supplier]")
			writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
			return
		}

		go func() {
			run, err := env.Pipeline.Submit(context.Background(), inquiry)
			if err != nil && run == nil {
				replyTelegram(env, chatID, "Processing failed: "+err.Error())
				return
			}
			replyTelegram(env, chatID, notify.FormatRun(run))
		}()

		writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	}
}

func replyTelegram(env *Env, chatID int64, text string) {
	if env.Telegram == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := env.Telegram.SendMessage(ctx, chatID, text); err != nil {
		zap.L().Warn("telegram reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// parseInquiryText parses the semicolon-separated bot message format.
func parseInquiryText(text string) (model.Inquiry, error) {
	parts := strings.Split(text, ";")
	if len(parts) < 4 {
		return model.Inquiry{}, eris.New("expected at least 4 fields")
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	var weight float64
	if _, err := fmt.Sscanf(parts[1], "%f", &weight); err != nil {
		return model.Inquiry{}, eris.Errorf("invalid weight %q", parts[1])
	}

	q := model.Inquiry{
		Description: parts[0],
		WeightKg:    weight,
		Origin:      parts[2],
		Destination: parts[3],
	}
	if len(parts) > 4 {
		q.Supplier = parts[4]
	}
	return q, q.Validate()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
