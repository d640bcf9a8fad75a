package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/process"

	app "github.com/liveiq-tools/report-layer/internal/app"
	"github.com/liveiq-tools/report-layer/internal/app/domain/endpoint"
	"github.com/liveiq-tools/report-layer/internal/app/domain/report"
	"github.com/liveiq-tools/report-layer/internal/app/extension"
	"github.com/liveiq-tools/report-layer/internal/app/metrics"
	"github.com/liveiq-tools/report-layer/internal/app/normalize"
	"github.com/liveiq-tools/report-layer/internal/app/services/batch"
)

const (
	// historyScanLimit bounds the by-id fallback scan over persisted
	// batch summaries.
	historyScanLimit = 200

	wsWriteWait    = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	// The server binds loopback; cross-origin pages on the same machine
	// are the expected clients.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a mux exposing the report API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.healthz)
	mux.HandleFunc("/status", h.status)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/v1/accounts", h.accounts)
	mux.HandleFunc("/v1/accounts/refresh", h.accountsRefresh)
	mux.HandleFunc("/v1/stores", h.stores)
	mux.HandleFunc("/v1/endpoints", h.endpoints)
	mux.HandleFunc("/v1/batches", h.batches)
	mux.HandleFunc("/v1/batches/", h.batchResources)
	mux.HandleFunc("/v1/events", h.events)
	mux.HandleFunc("/v1/flatten", h.flatten)
	mux.HandleFunc("/v1/extensions", h.extensions)
	mux.HandleFunc("/v1/extensions/", h.extensionRun)
	mux.HandleFunc("/v1/history", h.history)
	return metrics.InstrumentHandler(mux)
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusView is the process snapshot served at /status.
type statusView struct {
	Status     string  `json:"status"`
	Uptime     string  `json:"uptime"`
	Accounts   int     `json:"accounts"`
	Stores     int     `json:"stores"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	accts, err := h.app.Registry.Accounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	stores, err := h.app.Registry.AllStores(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	view := statusView{
		Status:   "ok",
		Uptime:   h.app.Uptime().Round(time.Second).String(),
		Accounts: len(accts),
		Stores:   len(stores),
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if pct, err := proc.CPUPercent(); err == nil {
			view.CPUPercent = pct
		}
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			view.RSSBytes = mem.RSS
		}
	}
	writeJSON(w, http.StatusOK, view)
}

// accountView is the roster entry shape served over the API. The client
// secret never leaves the process.
type accountView struct {
	Name         string    `json:"name"`
	ClientID     string    `json:"client_id"`
	Stores       []string  `json:"stores"`
	Status       string    `json:"status"`
	DiscoveredAt time.Time `json:"discovered_at"`
	LastError    string    `json:"last_error,omitempty"`
}

func (h *handler) accounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	accts, err := h.app.Registry.Accounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]accountView, 0, len(accts))
	for _, a := range accts {
		views = append(views, accountView{
			Name:         a.Name,
			ClientID:     a.ClientID,
			Stores:       a.StoreIDs,
			Status:       string(a.Status),
			DiscoveredAt: a.DiscoveredAt,
			LastError:    a.LastError,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) accountsRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if err := h.app.Discovery.Refresh(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	byAccount, err := h.app.Registry.StoresByAccount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	total := 0
	for _, ids := range byAccount {
		total += len(ids)
	}
	writeJSON(w, http.StatusOK, map[string]int{"accounts": len(byAccount), "stores": total})
}

func (h *handler) stores(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	byAccount, err := h.app.Registry.StoresByAccount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, byAccount)
}

func (h *handler) endpoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, endpoint.All())
}

func (h *handler) batches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		Endpoint string   `json:"endpoint"`
		Range    string   `json:"range"`
		Start    string   `json:"start"`
		End      string   `json:"end"`
		Stores   []string `json:"stores"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ep, ok := endpoint.Lookup(payload.Endpoint)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown endpoint %q", payload.Endpoint))
		return
	}

	var start, end string
	switch {
	case payload.Range != "":
		var err error
		start, end, err = report.Range(payload.Range).Resolve(time.Now())
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	case payload.Start != "" && payload.End != "":
		for _, d := range []string{payload.Start, payload.End} {
			if _, err := time.Parse(report.DateLayout, d); err != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("bad date %q: want %s", d, report.DateLayout))
				return
			}
		}
		if payload.Start > payload.End {
			writeError(w, http.StatusBadRequest, fmt.Errorf("start %s is after end %s", payload.Start, payload.End))
			return
		}
		start, end = payload.Start, payload.End
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("range or start and end are required"))
		return
	}

	accounts, err := h.app.Registry.Accounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	handle := h.app.Scheduler.Dispatch(batch.Request{
		Endpoint:  ep,
		DateStart: start,
		DateEnd:   end,
		Accounts:  accounts,
		Selection: payload.Stores,
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"id": handle.ID})
}

func (h *handler) batchResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/batches"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 1 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id := parts[0]

	if id == "current" {
		current := h.app.Scheduler.Current()
		switch r.Method {
		case http.MethodGet:
			if current == nil {
				writeError(w, http.StatusNotFound, fmt.Errorf("no batch dispatched"))
				return
			}
			h.writeBatch(w, current)
		case http.MethodDelete:
			if current == nil {
				writeError(w, http.StatusNotFound, fmt.Errorf("no batch dispatched"))
				return
			}
			current.Cancel()
			writeJSON(w, http.StatusAccepted, map[string]string{"id": current.ID, "status": "cancelling"})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if current := h.app.Scheduler.Current(); current != nil && current.ID == id {
		h.writeBatch(w, current)
		return
	}
	if agg, ok := h.app.Scheduler.Recent(id); ok {
		writeJSON(w, http.StatusOK, agg)
		return
	}

	// Fall back to the persisted summary; payloads are not stored, so
	// only the shape of the run comes back.
	recs, err := h.app.History.ListBatches(r.Context(), historyScanLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	for _, rec := range recs {
		if rec.ID == id {
			writeJSON(w, http.StatusOK, rec)
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("batch %s not found", id))
}

// writeBatch renders a handle: the full report when finished, a progress
// snapshot while running.
func (h *handler) writeBatch(w http.ResponseWriter, handle *batch.Handle) {
	if agg, ok := handle.Report(); ok {
		writeJSON(w, http.StatusOK, agg)
		return
	}
	completed, total := handle.Progress()
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        handle.ID,
		"running":   true,
		"completed": completed,
		"total":     total,
	})
}

func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		return
	}
	defer conn.Close()

	events, stop := h.app.Scheduler.Events().Subscribe(64)
	defer stop()

	// Drain client frames so close and pong frames are processed; the
	// read error doubles as the disconnect signal.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *handler) flatten(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	defer r.Body.Close()
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !json.Valid(raw) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("body must be valid JSON"))
		return
	}
	writeJSON(w, http.StatusOK, normalize.FlattenJSON(raw))
}

func (h *handler) extensions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, extension.AllInfo())
}

func (h *handler) extensionRun(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/extensions"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "run" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := parts[0]

	if _, ok := extension.Get(id); !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("extension %q not registered", id))
		return
	}

	var payload struct {
		Stores []string `json:"stores"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	host, err := h.app.ExtensionContext(r.Context(), payload.Stores)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out, err := extension.Invoke(r.Context(), id, host)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"output": out})
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("bad limit %q", v))
			return
		}
		limit = n
	}

	recs, err := h.app.History.ListBatches(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func decodeJSON(body io.ReadCloser, dst any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
