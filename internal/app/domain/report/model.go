// Package report defines the fetch request/result model shared by the
// gateway, the fan-out scheduler and every display surface.
package report

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/liveiq-tools/report-layer/internal/app/domain/endpoint"
)

// ErrorKind classifies a failed operation.
type ErrorKind string

const (
	KindConfigError    ErrorKind = "ConfigError"
	KindDiscoveryError ErrorKind = "DiscoveryError"
	KindTimeout        ErrorKind = "Timeout"
	KindRateLimited    ErrorKind = "RateLimited"
	KindServerError    ErrorKind = "ServerError"
	KindClientError    ErrorKind = "ClientError"
	KindParseError     ErrorKind = "ParseError"
)

// Retryable reports whether the gateway may retry a failure of this kind.
func (k ErrorKind) Retryable() bool {
	return k == KindRateLimited || k == KindServerError
}

// FetchRequest addresses one report for one store under one credential
// pair. Immutable; constructed per (account, store) and consumed exactly
// once by the gateway. Credentials never serialize.
type FetchRequest struct {
	Endpoint     endpoint.Endpoint `json:"endpoint"`
	StoreID      string            `json:"store_id"`
	DateStart    string            `json:"date_start"`
	DateEnd      string            `json:"date_end"`
	ClientID     string            `json:"-"`
	ClientSecret string            `json:"-"`
}

// FetchResult is the total outcome of one FetchRequest. Exactly one is
// produced per request and it is never mutated after creation.
type FetchResult struct {
	OK       bool            `json:"ok"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Kind     ErrorKind       `json:"error_kind,omitempty"`
	Message  string          `json:"message,omitempty"`
	Attempts int             `json:"attempts"`
	Elapsed  time.Duration   `json:"elapsed_ns"`
}

// Success builds a successful result carrying the raw parsed payload.
func Success(payload json.RawMessage, attempts int, elapsed time.Duration) FetchResult {
	return FetchResult{OK: true, Payload: payload, Attempts: attempts, Elapsed: elapsed}
}

// Failure builds a failed result of the given kind.
func Failure(kind ErrorKind, message string, attempts int, elapsed time.Duration) FetchResult {
	return FetchResult{Kind: kind, Message: message, Attempts: attempts, Elapsed: elapsed}
}

// Entry pairs one request's origin with its result.
type Entry struct {
	AccountName string      `json:"account_name"`
	StoreID     string      `json:"store_id"`
	Result      FetchResult `json:"result"`
}

// Aggregated is the outcome of one fan-out batch. Entries appear in
// completion order, not submission order; consumers wanting stable
// grouping sort a copy via SortEntries. A batch never fails as a whole,
// so an all-failed batch is still a complete Aggregated.
type Aggregated struct {
	ID         string            `json:"id"`
	Endpoint   endpoint.Endpoint `json:"endpoint"`
	DateStart  string            `json:"date_start"`
	DateEnd    string            `json:"date_end"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Cancelled  bool              `json:"cancelled"`
	Entries    []Entry           `json:"entries"`
}

// Failed counts entries whose fetch did not succeed.
func (a *Aggregated) Failed() int {
	n := 0
	for _, e := range a.Entries {
		if !e.Result.OK {
			n++
		}
	}
	return n
}

// SortEntries returns a copy ordered by account name, then store id.
// Store ids compare numerically when both parse as integers.
func SortEntries(entries []Entry) []Entry {
	out := append([]Entry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AccountName != out[j].AccountName {
			return out[i].AccountName < out[j].AccountName
		}
		return storeLess(out[i].StoreID, out[j].StoreID)
	})
	return out
}

// SortStoreIDs returns a copy of ids in the same order storeLess imposes
// on entries, numeric when possible so "9" sorts before "10".
func SortStoreIDs(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.SliceStable(out, func(i, j int) bool { return storeLess(out[i], out[j]) })
	return out
}

func storeLess(a, b string) bool {
	na, errA := strconv.Atoi(strings.TrimSpace(a))
	nb, errB := strconv.Atoi(strings.TrimSpace(b))
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}
