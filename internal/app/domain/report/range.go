package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the vendor's wire format for report dates.
const DateLayout = "2006-01-02"

// Range is a named relative date range preset.
type Range string

const (
	RangeToday      Range = "Today"
	RangeYesterday  Range = "Yesterday"
	RangePast2Days  Range = "Past 2 Days"
	RangePast3Days  Range = "Past 3 Days"
	RangePast7Days  Range = "Past 7 Days"
	RangePast14Days Range = "Past 14 Days"
	RangePast30Days Range = "Past 30 Days"
)

// Ranges lists the supported presets in menu order.
func Ranges() []Range {
	return []Range{
		RangeToday, RangeYesterday,
		RangePast2Days, RangePast3Days, RangePast7Days,
		RangePast14Days, RangePast30Days,
	}
}

// Resolve returns the start and end dates for the preset relative to now.
// "Past N Days" ends yesterday and spans N calendar days.
func (r Range) Resolve(now time.Time) (start, end string, err error) {
	day := now
	switch {
	case r == RangeToday:
		return day.Format(DateLayout), day.Format(DateLayout), nil
	case r == RangeYesterday:
		y := day.AddDate(0, 0, -1)
		return y.Format(DateLayout), y.Format(DateLayout), nil
	case strings.HasPrefix(string(r), "Past "):
		fields := strings.Fields(string(r))
		if len(fields) != 3 || fields[2] != "Days" {
			return "", "", fmt.Errorf("unknown date range %q", r)
		}
		days, convErr := strconv.Atoi(fields[1])
		if convErr != nil || days < 1 {
			return "", "", fmt.Errorf("unknown date range %q", r)
		}
		e := day.AddDate(0, 0, -1)
		s := e.AddDate(0, 0, -(days - 1))
		return s.Format(DateLayout), e.Format(DateLayout), nil
	default:
		return "", "", fmt.Errorf("unknown date range %q", r)
	}
}
