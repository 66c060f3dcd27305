package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/quicksilver/internal/database"
	"github.com/aristath/quicksilver/internal/modules/alerts"
	"github.com/aristath/quicksilver/internal/modules/features"
	"github.com/aristath/quicksilver/internal/modules/ingest"
	"github.com/aristath/quicksilver/internal/modules/sentiment"
)

// Handlers serves the read-only API endpoints.
type Handlers struct {
	db            *database.DB
	dataDir       string
	startupTime   time.Time
	headlineRepo  *ingest.HeadlineRepository
	sentimentRepo *sentiment.Repository
	featureRepo   *features.Repository
	alertRepo     *alerts.Repository
	log           zerolog.Logger
}

// NewHandlers creates the handler set
func NewHandlers(
	db *database.DB,
	dataDir string,
	headlineRepo *ingest.HeadlineRepository,
	sentimentRepo *sentiment.Repository,
	featureRepo *features.Repository,
	alertRepo *alerts.Repository,
	log zerolog.Logger,
) *Handlers {
	return &Handlers{
		db:            db,
		dataDir:       dataDir,
		startupTime:   time.Now(),
		headlineRepo:  headlineRepo,
		sentimentRepo: sentimentRepo,
		featureRepo:   featureRepo,
		alertRepo:     alertRepo,
		log:           log.With().Str("component", "handlers").Logger(),
	}
}

// HandleHealth reports liveness: a DB ping plus uptime.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.db.Conn().Ping(); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":         status,
		"uptime_seconds": int64(time.Since(h.startupTime).Seconds()),
	})
}

// headlineView is the API shape of a headline row (raw payload omitted).
type headlineView struct {
	ID             int64  `json:"id"`
	Ticker         string `json:"ticker"`
	Source         string `json:"source"`
	Title          string `json:"title"`
	URL            string `json:"url"`
	PublishedAtUTC string `json:"published_at_utc"`
}

// HandleRecentHeadlines returns the most recently published headlines.
func (h *Handlers) HandleRecentHeadlines(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 500)

	headlines, err := h.headlineRepo.GetRecent(limit)
	if err != nil {
		h.serverError(w, err, "Failed to load recent headlines")
		return
	}

	views := make([]headlineView, 0, len(headlines))
	for _, hl := range headlines {
		views = append(views, headlineView{
			ID:             hl.ID,
			Ticker:         hl.Ticker,
			Source:         hl.Source,
			Title:          hl.Title,
			URL:            hl.URL,
			PublishedAtUTC: hl.PublishedAtUTC.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"headlines": views})
}

// featureView is the API shape of a feature row.
type featureView struct {
	Ticker     string  `json:"ticker"`
	Window     string  `json:"window"`
	TsUTC      string  `json:"ts_utc"`
	SentMean   float64 `json:"sent_mean"`
	SentZ      float64 `json:"sent_z"`
	VolZ       float64 `json:"vol_z"`
	HeadlinesN int64   `json:"headlines_n"`
}

// HandleFeatures returns recent feature rows for a ticker.
func (h *Handlers) HandleFeatures(w http.ResponseWriter, r *http.Request) {
	ticker := r.URL.Query().Get("ticker")
	if ticker == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ticker query parameter is required"})
		return
	}
	limit := queryInt(r, "limit", 48, 500)

	rows, err := h.featureRepo.GetByTicker(ticker, limit)
	if err != nil {
		h.serverError(w, err, "Failed to load features")
		return
	}

	views := make([]featureView, 0, len(rows))
	for _, f := range rows {
		views = append(views, featureView{
			Ticker:     f.Ticker,
			Window:     f.Window,
			TsUTC:      f.TsUTC.UTC().Format(time.RFC3339),
			SentMean:   f.SentMean,
			SentZ:      f.SentZ,
			VolZ:       f.VolZ,
			HeadlinesN: f.HeadlinesN,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"features": views})
}

// alertView is the API shape of an alert row.
type alertView struct {
	Ticker    string          `json:"ticker"`
	Kind      string          `json:"kind"`
	Window    string          `json:"window"`
	Threshold string          `json:"threshold"`
	Payload   json.RawMessage `json:"payload"`
	FiredAt   string          `json:"fired_at"`
}

// HandleAlerts returns recently fired alerts, optionally per ticker.
func (h *Handlers) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	ticker := r.URL.Query().Get("ticker")
	limit := queryInt(r, "limit", 50, 500)

	rows, err := h.alertRepo.GetRecent(ticker, limit)
	if err != nil {
		h.serverError(w, err, "Failed to load alerts")
		return
	}

	views := make([]alertView, 0, len(rows))
	for _, a := range rows {
		views = append(views, alertView{
			Ticker:    a.Ticker,
			Kind:      a.Kind,
			Window:    a.Window,
			Threshold: a.Threshold,
			Payload:   json.RawMessage(a.PayloadJSON),
			FiredAt:   a.FiredAt.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": views})
}

// HandleSystemStatus reports pipeline row counts plus host resource usage.
func (h *Handlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	headlines, err := h.headlineRepo.Count()
	if err != nil {
		h.serverError(w, err, "Failed to count headlines")
		return
	}
	scored, err := h.sentimentRepo.Count()
	if err != nil {
		h.serverError(w, err, "Failed to count sentiment rows")
		return
	}
	featureCount, err := h.featureRepo.Count()
	if err != nil {
		h.serverError(w, err, "Failed to count features")
		return
	}
	alertCount, err := h.alertRepo.Count()
	if err != nil {
		h.serverError(w, err, "Failed to count alerts")
		return
	}

	status := map[string]interface{}{
		"pipeline": map[string]int64{
			"headlines": headlines,
			"scored":    scored,
			"features":  featureCount,
			"alerts":    alertCount,
			"unscored":  headlines - scored,
		},
		"uptime_seconds": int64(time.Since(h.startupTime).Seconds()),
	}

	// Host metrics are best-effort; dashboards degrade gracefully
	if vm, err := mem.VirtualMemory(); err == nil {
		status["memory"] = map[string]interface{}{
			"used_percent": vm.UsedPercent,
			"total_mb":     vm.Total / 1024 / 1024,
			"available_mb": vm.Available / 1024 / 1024,
		}
	}
	if du, err := disk.Usage(h.dataDir); err == nil {
		status["disk"] = map[string]interface{}{
			"used_percent": du.UsedPercent,
			"free_gb":      float64(du.Free) / 1024 / 1024 / 1024,
		}
	}

	writeJSON(w, http.StatusOK, status)
}

func (h *Handlers) serverError(w http.ResponseWriter, err error, msg string) {
	h.log.Error().Err(err).Msg(msg)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, name string, fallback, max int) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > max {
				return max
			}
			return parsed
		}
	}
	return fallback
}
