// Package testutil provides shared test doubles for the vendor API.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// Upstream is a scripted stand-in for the vendor API. Store rosters are
// keyed by the api-client header so one server exercises multi-account
// discovery; report endpoints serve a configurable payload per endpoint
// API name.
type Upstream struct {
	mu       sync.Mutex
	srv      *httptest.Server
	stores   map[string][]string
	reports  map[string]string
	statuses map[string]int
}

// NewUpstream starts a fake vendor API that shuts down with the test.
func NewUpstream(t *testing.T) *Upstream {
	t.Helper()
	u := &Upstream{
		stores:   make(map[string][]string),
		reports:  make(map[string]string),
		statuses: make(map[string]int),
	}
	u.srv = httptest.NewServer(http.HandlerFunc(u.handle))
	t.Cleanup(u.srv.Close)
	return u
}

// URL returns the server's base URL.
func (u *Upstream) URL() string { return u.srv.URL }

// SetStores assigns the store roster served to one credential. Requests
// carrying an unknown api-client header are rejected with 401.
func (u *Upstream) SetStores(clientID string, ids ...string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stores[clientID] = append([]string(nil), ids...)
}

// SetReport scripts the body served for one endpoint API name, e.g.
// "SalesSummary". Unscripted endpoints serve an empty data envelope.
func (u *Upstream) SetReport(apiName, body string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.reports[apiName] = body
}

// FailEndpoint forces a status code for one endpoint API name.
func (u *Upstream) FailEndpoint(apiName string, status int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.statuses[apiName] = status
}

func (u *Upstream) handle(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "api" {
		http.NotFound(w, r)
		return
	}

	ids, known := u.stores[r.Header.Get("api-client")]
	if !known {
		http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	if parts[1] == "Restaurants" {
		// Whole roster on the first page, empty afterwards.
		if page := r.URL.Query().Get("page"); page != "" && page != "1" {
			fmt.Fprint(w, "[]")
			return
		}
		out := make([]map[string]any, 0, len(ids))
		for _, id := range ids {
			out = append(out, map[string]any{"restaurantNumber": id})
		}
		_ = json.NewEncoder(w).Encode(out)
		return
	}

	name := parts[1]
	if status, ok := u.statuses[name]; ok {
		http.Error(w, `{"error":"scripted failure"}`, status)
		return
	}
	if body, ok := u.reports[name]; ok {
		fmt.Fprint(w, body)
		return
	}
	fmt.Fprint(w, `{"data":[]}`)
}
