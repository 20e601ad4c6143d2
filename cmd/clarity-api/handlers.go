package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clarityhq/clarity/engine/domain"
	"github.com/clarityhq/clarity/engine/normalize"
	"github.com/clarityhq/clarity/engine/search"
	"github.com/clarityhq/clarity/engine/store"
	"github.com/clarityhq/clarity/pkg/fn"
	"github.com/clarityhq/clarity/pkg/repo"
)

const (
	defaultDataWindow  = 30 * 24 * time.Hour
	defaultLatestLimit = 10
	maxLatestLimit     = 500
)

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Clarity API", "version": "1.0.0"})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Search sessions ---

// initiateResponse is the 202 body of a new session.
type initiateResponse struct {
	SessionID string                                    `json:"session_id"`
	Query     string                                    `json:"query"`
	State     domain.SessionState                       `json:"state"`
	Tasks     map[domain.SourceType]search.SourceStatus `json:"tasks"`
	AutoSave  bool                                      `json:"auto_save"`
	StatusURL string                                    `json:"status_url"`
	CreatedAt time.Time                                 `json:"created_at"`
}

func (a *api) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req search.InitiateRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.initiate(w, r, req)
}

func (a *api) initiate(w http.ResponseWriter, r *http.Request, req search.InitiateRequest) {
	snap, err := a.searches.Initiate(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, initiateResponse{
		SessionID: snap.SessionID,
		Query:     snap.Query,
		State:     snap.State,
		Tasks:     snap.Sources,
		AutoSave:  snap.AutoSave,
		StatusURL: "/search/" + snap.SessionID,
		CreatedAt: snap.CreatedAt,
	})
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := a.searches.Status(r.Context(), id)
	if err != nil {
		// the session completed but its batch was not written
		if errors.Is(err, domain.ErrPersistence) && snap.SessionID != "" {
			a.logger.Error("session persistence failed", "session_id", id, "err", err)
			writeJSON(w, http.StatusInternalServerError, snap)
			return
		}
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// --- Brand data ---

type brandListResponse struct {
	Brands []store.BrandSummary `json:"brands"`
	Count  int                  `json:"count"`
}

type brandDataResponse struct {
	Brand string                   `json:"brand"`
	Data  []domain.ReputationEntry `json:"data"`
	Count int                      `json:"count"`
}

type brandStatsResponse struct {
	Brand string           `json:"brand"`
	Stats store.BrandStats `json:"stats"`
}

func (a *api) handleListBrands(w http.ResponseWriter, r *http.Request) {
	brands, err := a.store.ListBrands(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if brands == nil {
		brands = []store.BrandSummary{}
	}
	writeJSON(w, http.StatusOK, brandListResponse{Brands: brands, Count: len(brands)})
}

// dataFilter turns the query string into a batch-day filter. Without any
// bound it covers the last 30 days; an open end_date means today.
func (a *api) dataFilter(r *http.Request) store.DateFilter {
	q := r.URL.Query()
	now := a.now().UTC()
	today := now.Format(domain.DateLayout)
	switch {
	case q.Get("date") != "":
		return store.DateFilter{On: q.Get("date")}
	case q.Get("start_date") != "":
		f := store.DateFilter{From: q.Get("start_date"), To: q.Get("end_date")}
		if f.To == "" {
			f.To = today
		}
		return f
	case q.Get("end_date") != "":
		return store.DateFilter{To: q.Get("end_date")}
	default:
		return store.DateFilter{From: now.Add(-defaultDataWindow).Format(domain.DateLayout), To: today}
	}
}

func (a *api) handleBrandData(w http.ResponseWriter, r *http.Request) {
	brand := brandParam(r)
	limit, err := intParam(r.URL.Query(), "limit", 0)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	entries, err := a.store.Query(r.Context(), brand, a.dataFilter(r), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, brandDataResponse{Brand: brand, Data: entries, Count: len(entries)})
}

func (a *api) handleBrandLatest(w http.ResponseWriter, r *http.Request) {
	brand := brandParam(r)
	q := r.URL.Query()
	limit, err := intParam(q, "limit", defaultLatestLimit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	offset, err := intParam(q, "offset", 0)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	opts := repo.ListOpts{Offset: offset, Limit: limit}.Clamp(defaultLatestLimit, maxLatestLimit)
	entries, err := a.store.Latest(r.Context(), brand, opts)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, brandDataResponse{Brand: brand, Data: entries, Count: len(entries)})
}

func (a *api) handleBrandStats(w http.ResponseWriter, r *http.Request) {
	brand := brandParam(r)
	stats, err := a.store.Stats(r.Context(), brand)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, brandStatsResponse{Brand: brand, Stats: stats})
}

// scrapeRequest starts a session for the brand in the path. Sessions
// started here save their results unless auto_save is false.
type scrapeRequest struct {
	Sources    []string `json:"sources"`
	WebsiteURL string   `json:"website_url"`
	AutoSave   *bool    `json:"auto_save"`
}

func (a *api) handleBrandScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if len(req.Sources) == 0 {
		a.writeError(w, r, domain.NewValidationError("sources", "", domain.ErrInvalidSource))
		return
	}
	autoSave := true
	if req.AutoSave != nil {
		autoSave = *req.AutoSave
	}
	a.initiate(w, r, search.InitiateRequest{
		Query:      brandParam(r),
		Sources:    req.Sources,
		AutoSave:   autoSave,
		WebsiteURL: req.WebsiteURL,
	})
}

// scrapeStatusRequest carries task handles the caller kept from a scrape
// response. Each value may be the returned task object or a bare handle.
type scrapeStatusRequest struct {
	Tasks map[string]json.RawMessage `json:"tasks"`
}

type taskCheck struct {
	Source        domain.SourceType `json:"source_type"`
	Handle        string            `json:"external_handle,omitempty"`
	State         domain.TaskState  `json:"state"`
	Answer        string            `json:"answer,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Error         string            `json:"error,omitempty"`
}

type scrapeStatusResponse struct {
	Brand   string                          `json:"brand"`
	Results map[domain.SourceType]taskCheck `json:"results"`
}

func parseTaskRef(raw json.RawMessage) (taskCheck, bool) {
	var handle string
	if json.Unmarshal(raw, &handle) == nil {
		return taskCheck{Handle: strings.TrimSpace(handle), State: domain.TaskActive}, true
	}
	var ref struct {
		search.SourceStatus
		TaskID string `json:"task_id"`
	}
	if json.Unmarshal(raw, &ref) != nil {
		return taskCheck{}, false
	}
	c := taskCheck{Handle: ref.Handle, State: ref.State, FailureReason: ref.FailureReason}
	if c.Handle == "" {
		c.Handle = ref.TaskID
	}
	c.Handle = strings.TrimSpace(c.Handle)
	if c.State == "" {
		c.State = domain.TaskActive
	}
	return c, true
}

// handleScrapeStatus polls caller-held task handles without a session. A
// source without a handle is echoed back; a poll error is reported on that
// source only.
func (a *api) handleScrapeStatus(w http.ResponseWriter, r *http.Request) {
	brand, err := domain.ValidateQuery(brandParam(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req scrapeStatusRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if len(req.Tasks) == 0 {
		a.writeError(w, r, fmt.Errorf("%w: missing tasks", errInvalidBody))
		return
	}

	checks := make([]taskCheck, 0, len(req.Tasks))
	for name, raw := range req.Tasks {
		src, err := domain.ParseSourceType(name)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		c, ok := parseTaskRef(raw)
		if !ok {
			a.writeError(w, r, fmt.Errorf("%w: task %s is neither a handle nor a task object", errInvalidBody, name))
			return
		}
		c.Source = src
		checks = append(checks, c)
	}

	checks = fn.ParMap(checks, 0, func(c taskCheck) taskCheck {
		if c.Handle == "" {
			return c
		}
		res, err := a.tasks.Poll(r.Context(), c.Handle)
		if err != nil {
			c.Error = err.Error()
			return c
		}
		c.State, c.Answer, c.FailureReason = res.State, res.Payload, res.FailureReason
		return c
	})

	resp := scrapeStatusResponse{Brand: brand, Results: make(map[domain.SourceType]taskCheck, len(checks))}
	for _, c := range checks {
		resp.Results[c.Source] = c
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Manual save ---

// entryInput is a caller supplied entry. Dates may use any supported
// format and are stored canonically.
type entryInput struct {
	Date            string   `json:"date"`
	SourceURL       string   `json:"source_url"`
	SourceType      string   `json:"source_type"`
	ReputationScore *float64 `json:"reputation_score"`
	Summary         string   `json:"summary"`
	ScrapedAt       string   `json:"scraped_at"`
	RawData         string   `json:"raw_data"`
}

var scrapedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (in entryInput) toEntry(now time.Time) (domain.ReputationEntry, error) {
	src, err := domain.ParseSourceType(in.SourceType)
	if err != nil {
		return domain.ReputationEntry{}, err
	}
	if in.ReputationScore == nil {
		return domain.ReputationEntry{}, domain.NewValidationError("reputation_score", "", domain.ErrScoreOutOfRange)
	}
	day, ok := domain.ParseDate(in.Date, now)
	if !ok {
		return domain.ReputationEntry{}, domain.NewValidationError("date", in.Date, domain.ErrInvalidDate)
	}
	scrapedAt := now
	if raw := strings.TrimSpace(in.ScrapedAt); raw != "" {
		parsed := false
		for _, layout := range scrapedAtLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				scrapedAt, parsed = t.UTC(), true
				break
			}
		}
		if !parsed {
			return domain.ReputationEntry{}, domain.NewValidationError("scraped_at", raw, domain.ErrInvalidDate)
		}
	}
	e := domain.ReputationEntry{
		Date:            day.Format(domain.DateLayout),
		SourceURL:       strings.TrimSpace(in.SourceURL),
		SourceType:      src,
		ReputationScore: *in.ReputationScore,
		Summary:         strings.TrimSpace(in.Summary),
		ScrapedAt:       scrapedAt,
		RawData:         in.RawData,
	}
	if err := domain.ValidateEntry(e); err != nil {
		return domain.ReputationEntry{}, err
	}
	return e, nil
}

type saveRequest struct {
	Entries []entryInput `json:"entries"`
}

type saveResponse struct {
	Message string          `json:"message"`
	Count   int             `json:"count"`
	Batch   store.BatchInfo `json:"batch"`
}

func (a *api) handleBrandSave(w http.ResponseWriter, r *http.Request) {
	brand := brandParam(r)
	var req saveRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if req.Entries == nil {
		a.writeError(w, r, fmt.Errorf("%w: missing 'entries'", errInvalidBody))
		return
	}
	now := a.now().UTC()
	entries := make([]domain.ReputationEntry, 0, len(req.Entries))
	for i, in := range req.Entries {
		e, err := in.toEntry(now)
		if err != nil {
			a.writeError(w, r, fmt.Errorf("entry %d: %w", i, err))
			return
		}
		entries = append(entries, e)
	}
	info, err := a.store.Append(r.Context(), brand, "", entries)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saveResponse{
		Message: fmt.Sprintf("Saved %d entries for %s", len(entries), brand),
		Count:   len(entries),
		Batch:   info,
	})
}

// --- Direct processing of a raw provider answer ---

type processRequest struct {
	BrandName  string          `json:"brand_name"`
	SourceType string          `json:"source_type"`
	RawResult  json.RawMessage `json:"raw_result"`
	SourceURL  string          `json:"source_url"`
}

type processResponse struct {
	Message         string                   `json:"message"`
	Brand           string                   `json:"brand"`
	Source          domain.SourceType        `json:"source"`
	Count           int                      `json:"count"`
	Entries         []domain.ReputationEntry `json:"entries"`
	Batch           *store.BatchInfo         `json:"batch,omitempty"`
	ProcessingError string                   `json:"processing_error,omitempty"`
}

// rawText accepts raw_result either as a JSON string or as any other JSON
// value, which is passed on as its own text.
func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}

func (a *api) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	payload := rawText(req.RawResult)
	if strings.TrimSpace(req.BrandName) == "" || strings.TrimSpace(req.SourceType) == "" || strings.TrimSpace(payload) == "" {
		a.writeError(w, r, fmt.Errorf("%w: missing required fields: brand_name, source_type, raw_result", errInvalidBody))
		return
	}
	brand, err := domain.ValidateQuery(req.BrandName)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	src, err := domain.ParseSourceType(req.SourceType)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	resp := processResponse{Brand: brand, Source: src}
	entries, err := a.norm.Normalize(r.Context(), normalize.Input{
		Payload:     payload,
		Source:      src,
		Brand:       brand,
		FallbackURL: strings.TrimSpace(req.SourceURL),
	})
	if err != nil {
		resp.ProcessingError = err.Error()
	}
	if entries == nil {
		entries = []domain.ReputationEntry{}
	}
	if len(entries) > 0 {
		info, err := a.store.Append(r.Context(), brand, "", entries)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		resp.Batch = &info
	}
	resp.Entries = entries
	resp.Count = len(entries)
	resp.Message = fmt.Sprintf("Processed and saved %d entries", len(entries))
	writeJSON(w, http.StatusCreated, resp)
}
