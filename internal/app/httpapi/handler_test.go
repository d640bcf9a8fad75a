package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	app "github.com/liveiq-tools/report-layer/internal/app"
	"github.com/liveiq-tools/report-layer/internal/app/domain/report"
	_ "github.com/liveiq-tools/report-layer/internal/app/extension/builtin/salestoday"
	"github.com/liveiq-tools/report-layer/internal/app/services/batch"
	"github.com/liveiq-tools/report-layer/internal/config"
	"github.com/liveiq-tools/report-layer/pkg/testutil"
)

// newUpstream scripts the standard fixture: one credential owning two
// stores and a sales payload every store answers with.
func newUpstream(t *testing.T) *testutil.Upstream {
	t.Helper()
	up := testutil.NewUpstream(t)
	up.SetStores("id-east", "101", "102")
	up.SetReport("SalesSummary", `{"data":[{"netSales":55.5}]}`)
	return up
}

func newTestApp(t *testing.T, baseURL string) (*app.Application, http.Handler) {
	t.Helper()
	cfg := &config.Config{
		BaseURL: baseURL,
		Batch:   config.BatchConfig{MaxConcurrency: 4},
	}
	application, err := app.New(cfg, app.Stores{}, nil, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if _, err := application.Registry.Load(context.Background(), []config.AccountEntry{
		{Name: "east", ClientID: "id-east", ClientSecret: "s3cr3t-east"},
	}); err != nil {
		t.Fatalf("load accounts: %v", err)
	}
	return application, NewHandler(application)
}

func do(h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func marshal(v any) []byte {
	buf, _ := json.Marshal(v)
	return buf
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHandlerLifecycle(t *testing.T) {
	up := newUpstream(t)
	_, handler := newTestApp(t, up.URL())

	resp := do(handler, http.MethodGet, "/healthz", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 health, got %d", resp.Code)
	}

	resp = do(handler, http.MethodPost, "/v1/accounts/refresh", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 refresh, got %d", resp.Code)
	}
	var refreshed map[string]int
	if err := json.Unmarshal(resp.Body.Bytes(), &refreshed); err != nil {
		t.Fatalf("unmarshal refresh: %v", err)
	}
	if refreshed["accounts"] != 1 || refreshed["stores"] != 2 {
		t.Fatalf("expected 1 account / 2 stores, got %v", refreshed)
	}

	resp = do(handler, http.MethodGet, "/v1/accounts", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 accounts, got %d", resp.Code)
	}
	if bytes.Contains(resp.Body.Bytes(), []byte("s3cr3t-east")) {
		t.Fatalf("client secret leaked into account listing: %s", resp.Body.String())
	}
	var accts []accountView
	if err := json.Unmarshal(resp.Body.Bytes(), &accts); err != nil {
		t.Fatalf("unmarshal accounts: %v", err)
	}
	if len(accts) != 1 || accts[0].Name != "east" || len(accts[0].Stores) != 2 {
		t.Fatalf("unexpected account listing: %+v", accts)
	}

	resp = do(handler, http.MethodGet, "/v1/stores", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 stores, got %d", resp.Code)
	}
	var byAccount map[string][]string
	if err := json.Unmarshal(resp.Body.Bytes(), &byAccount); err != nil {
		t.Fatalf("unmarshal stores: %v", err)
	}
	if len(byAccount["east"]) != 2 {
		t.Fatalf("expected 2 stores for east, got %v", byAccount)
	}

	resp = do(handler, http.MethodGet, "/v1/endpoints", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 endpoints, got %d", resp.Code)
	}
	var endpoints []string
	if err := json.Unmarshal(resp.Body.Bytes(), &endpoints); err != nil {
		t.Fatalf("unmarshal endpoints: %v", err)
	}
	if len(endpoints) != 7 || endpoints[0] != "Sales Summary" {
		t.Fatalf("unexpected endpoint table: %v", endpoints)
	}

	resp = do(handler, http.MethodPost, "/v1/batches", marshal(map[string]any{
		"endpoint": "Sales Summary",
		"range":    "Today",
	}))
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 dispatch, got %d: %s", resp.Code, resp.Body.String())
	}
	var dispatched map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &dispatched); err != nil {
		t.Fatalf("unmarshal dispatch: %v", err)
	}
	id := dispatched["id"]
	if id == "" {
		t.Fatal("expected a batch id")
	}

	var agg report.Aggregated
	waitFor(t, func() bool {
		resp := do(handler, http.MethodGet, "/v1/batches/"+id, nil)
		if resp.Code != http.StatusOK {
			return false
		}
		var probe struct {
			Running bool           `json:"running"`
			Entries []report.Entry `json:"entries"`
		}
		if err := json.Unmarshal(resp.Body.Bytes(), &probe); err != nil {
			return false
		}
		if probe.Running {
			return false
		}
		return json.Unmarshal(resp.Body.Bytes(), &agg) == nil
	})
	if len(agg.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(agg.Entries))
	}
	if agg.Failed() != 0 {
		t.Fatalf("expected no failures, got %d", agg.Failed())
	}

	resp = do(handler, http.MethodGet, "/v1/batches/current", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 current, got %d", resp.Code)
	}

	waitFor(t, func() bool {
		resp := do(handler, http.MethodGet, "/v1/history", nil)
		if resp.Code != http.StatusOK {
			return false
		}
		return bytes.Contains(resp.Body.Bytes(), []byte(id))
	})

	resp = do(handler, http.MethodPost, "/v1/flatten", []byte(`{"a":{"b":1},"list":[{"x":2}]}`))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 flatten, got %d", resp.Code)
	}
	var flat map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &flat); err != nil {
		t.Fatalf("unmarshal flatten: %v", err)
	}
	if flat["a.b"] != float64(1) {
		t.Fatalf("expected a.b flattened, got %v", flat)
	}

	resp = do(handler, http.MethodGet, "/metrics", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 metrics, got %d", resp.Code)
	}
	if resp.Body.Len() == 0 {
		t.Fatal("expected metrics output to be non-empty")
	}

	resp = do(handler, http.MethodGet, "/status", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 status, got %d", resp.Code)
	}
	var status statusView
	if err := json.Unmarshal(resp.Body.Bytes(), &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.Accounts != 1 || status.Stores != 2 {
		t.Fatalf("unexpected status counts: %+v", status)
	}
}

func TestExtensionRoutes(t *testing.T) {
	up := newUpstream(t)
	application, handler := newTestApp(t, up.URL())

	if err := application.Discovery.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	resp := do(handler, http.MethodGet, "/v1/extensions", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 extensions, got %d", resp.Code)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte("sales-today")) {
		t.Fatalf("expected sales-today in listing: %s", resp.Body.String())
	}

	resp = do(handler, http.MethodPost, "/v1/extensions/sales-today/run", marshal(map[string]any{
		"stores": []string{"101"},
	}))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 run, got %d: %s", resp.Code, resp.Body.String())
	}
	var run map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &run); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	if !strings.Contains(run["output"], "101 : $55.50") {
		t.Fatalf("expected net sales line for store 101, got %q", run["output"])
	}
	if strings.Contains(run["output"], "102") {
		t.Fatalf("expected store 102 filtered out, got %q", run["output"])
	}

	resp = do(handler, http.MethodPost, "/v1/extensions/nope/run", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 unknown extension, got %d", resp.Code)
	}
}

func TestBatchValidation(t *testing.T) {
	up := newUpstream(t)
	_, handler := newTestApp(t, up.URL())

	cases := []struct {
		name string
		body map[string]any
	}{
		{"unknown endpoint", map[string]any{"endpoint": "Nope", "range": "Today"}},
		{"bad range", map[string]any{"endpoint": "Sales Summary", "range": "Fortnight"}},
		{"bad date", map[string]any{"endpoint": "Sales Summary", "start": "01/02/2024", "end": "2024-02-01"}},
		{"start after end", map[string]any{"endpoint": "Sales Summary", "start": "2024-02-02", "end": "2024-02-01"}},
		{"missing dates", map[string]any{"endpoint": "Sales Summary"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(handler, http.MethodPost, "/v1/batches", marshal(tc.body))
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", resp.Code, resp.Body.String())
			}
		})
	}

	resp := do(handler, http.MethodGet, "/v1/batches", nil)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", resp.Code)
	}
}

func TestBatchLookupMisses(t *testing.T) {
	up := newUpstream(t)
	_, handler := newTestApp(t, up.URL())

	resp := do(handler, http.MethodGet, "/v1/batches/current", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any dispatch, got %d", resp.Code)
	}

	resp = do(handler, http.MethodGet, "/v1/batches/no-such-id", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", resp.Code)
	}
}

func TestBatchCompletesWhenUpstreamFails(t *testing.T) {
	up := newUpstream(t)
	up.FailEndpoint("SalesSummary", http.StatusNotFound)
	_, handler := newTestApp(t, up.URL())

	resp := do(handler, http.MethodPost, "/v1/accounts/refresh", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 refresh, got %d", resp.Code)
	}

	resp = do(handler, http.MethodPost, "/v1/batches", marshal(map[string]any{
		"endpoint": "Sales Summary",
		"range":    "Today",
	}))
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 dispatch, got %d: %s", resp.Code, resp.Body.String())
	}
	var dispatched map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &dispatched); err != nil {
		t.Fatalf("unmarshal dispatch: %v", err)
	}

	// A batch never fails as a whole: every store still yields an entry,
	// each carrying its own error.
	var agg report.Aggregated
	waitFor(t, func() bool {
		resp := do(handler, http.MethodGet, "/v1/batches/"+dispatched["id"], nil)
		if resp.Code != http.StatusOK {
			return false
		}
		var probe struct {
			Running bool `json:"running"`
		}
		if err := json.Unmarshal(resp.Body.Bytes(), &probe); err != nil || probe.Running {
			return false
		}
		return json.Unmarshal(resp.Body.Bytes(), &agg) == nil
	})
	if len(agg.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(agg.Entries))
	}
	if agg.Failed() != 2 {
		t.Fatalf("expected every entry failed, got %d of %d", agg.Failed(), len(agg.Entries))
	}
	for _, e := range agg.Entries {
		if e.Result.Kind != report.KindClientError {
			t.Fatalf("store %s: kind = %s, want %s", e.StoreID, e.Result.Kind, report.KindClientError)
		}
	}
}

func TestFlattenRejectsBadJSON(t *testing.T) {
	up := newUpstream(t)
	_, handler := newTestApp(t, up.URL())

	resp := do(handler, http.MethodPost, "/v1/flatten", []byte("{not json"))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestMethodGuards(t *testing.T) {
	up := newUpstream(t)
	_, handler := newTestApp(t, up.URL())

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodDelete, "/v1/accounts"},
		{http.MethodGet, "/v1/accounts/refresh"},
		{http.MethodPut, "/v1/flatten"},
		{http.MethodPost, "/v1/history"},
	}
	for _, tc := range cases {
		resp := do(handler, tc.method, tc.path, nil)
		if resp.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s: expected 405, got %d", tc.method, tc.path, resp.Code)
		}
	}
}

func TestEventsStreamOverWebsocket(t *testing.T) {
	up := newUpstream(t)
	application, handler := newTestApp(t, up.URL())

	if err := application.Discovery.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	srv := httptest.NewServer(handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial events: %v", err)
	}
	defer conn.Close()
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	// Give the server side a moment to register its subscription before
	// events start flowing.
	time.Sleep(100 * time.Millisecond)

	post, err := http.Post(srv.URL+"/v1/batches", "application/json", bytes.NewReader(marshal(map[string]any{
		"endpoint": "Sales Summary",
		"range":    "Today",
	})))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 dispatch, got %d", post.StatusCode)
	}

	sawStarted := false
	entries := 0
	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var ev batch.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		switch ev.Type {
		case batch.EventStarted:
			sawStarted = true
		case batch.EventEntry:
			entries++
		case batch.EventFinished:
			if !sawStarted {
				t.Fatal("finished before started event")
			}
			if entries != 2 || ev.Total != 2 || ev.Failed != 0 {
				t.Fatalf("unexpected finish: entries=%d total=%d failed=%d", entries, ev.Total, ev.Failed)
			}
			return
		}
	}
}
