// Package endpoint defines the closed set of upstream report resources
// the vendor API exposes. Adding an endpoint is a table edit.
package endpoint

import (
	"net/url"
	"strings"
)

// Endpoint identifies one upstream report resource by its display name.
type Endpoint string

const (
	SalesSummary                 Endpoint = "Sales Summary"
	DailySalesSummary            Endpoint = "Daily Sales Summary"
	DailyTimeclock               Endpoint = "Daily Timeclock"
	ThirdPartySalesSummary       Endpoint = "Third Party Sales Summary"
	ThirdPartyTransactionSummary Endpoint = "Third Party Transaction Summary"
	TransactionSummary           Endpoint = "Transaction Summary"
	TransactionDetails           Endpoint = "Transaction Details"
)

// table preserves menu order; paths follow the vendor's route scheme.
var table = []struct {
	name Endpoint
	path string
}{
	{SalesSummary, "/api/SalesSummary/{restaurantNumbers}/startDate/{startDate}/endDate/{endDate}"},
	{DailySalesSummary, "/api/DailySalesSummary/{restaurantNumbers}/startDate/{startDate}/endDate/{endDate}"},
	{DailyTimeclock, "/api/DailyTimeclock/{restaurantNumbers}/startDate/{startDate}/endDate/{endDate}"},
	{ThirdPartySalesSummary, "/api/ThirdPartySalesSummary/{restaurantNumbers}/startDate/{startDate}/endDate/{endDate}"},
	{ThirdPartyTransactionSummary, "/api/ThirdPartyTransactionSummary/{restaurantNumbers}/startDate/{startDate}/endDate/{endDate}"},
	{TransactionSummary, "/api/TransactionSummary/{restaurantNumbers}/startDate/{startDate}/endDate/{endDate}"},
	{TransactionDetails, "/api/TransactionDetails/{restaurantNumbers}/startDate/{startDate}/endDate/{endDate}"},
}

var paths = func() map[Endpoint]string {
	m := make(map[Endpoint]string, len(table))
	for _, e := range table {
		m[e.name] = e.path
	}
	return m
}()

// All returns every endpoint in table order.
func All() []Endpoint {
	out := make([]Endpoint, len(table))
	for i, e := range table {
		out[i] = e.name
	}
	return out
}

// Lookup resolves a display name to an Endpoint.
func Lookup(name string) (Endpoint, bool) {
	e := Endpoint(name)
	_, ok := paths[e]
	return e, ok
}

// Valid reports whether e is a known endpoint.
func (e Endpoint) Valid() bool {
	_, ok := paths[e]
	return ok
}

// String returns the display name.
func (e Endpoint) String() string { return string(e) }

// Path expands the endpoint's route template for one store and date range.
// Dates use the vendor's YYYY-MM-DD wire format.
func (e Endpoint) Path(storeID, startDate, endDate string) string {
	tmpl := paths[e]
	r := strings.NewReplacer(
		"{restaurantNumbers}", url.PathEscape(storeID),
		"{startDate}", url.PathEscape(startDate),
		"{endDate}", url.PathEscape(endDate),
	)
	return r.Replace(tmpl)
}

// DiscoveryPath is the store enumeration resource shared by every account.
const DiscoveryPath = "/api/Restaurants"
