package domain

import (
	"fmt"
	"sort"
	"time"
)

// PeriodStatus enumerates billing period states. Changes are monotonic.
type PeriodStatus string

const (
	PeriodStatusOpen     PeriodStatus = "OPEN"
	PeriodStatusClosed   PeriodStatus = "CLOSED"
	PeriodStatusInvoiced PeriodStatus = "INVOICED"
)

var periodOrder = map[PeriodStatus]int{
	PeriodStatusOpen:     0,
	PeriodStatusClosed:   1,
	PeriodStatusInvoiced: 2,
}

// CanAdvanceTo reports whether next is exactly one step after s.
func (s PeriodStatus) CanAdvanceTo(next PeriodStatus) bool {
	from, ok := periodOrder[s]
	if !ok {
		return false
	}
	to, ok := periodOrder[next]
	return ok && to == from+1
}

// Month identifies a calendar billing month.
type Month struct {
	Year  int
	Month time.Month
}

// NewMonth validates and builds a Month.
func NewMonth(year, month int) (Month, error) {
	if year < 2000 || year > 9999 {
		return Month{}, ValidationError("year %d out of range", year)
	}
	if month < 1 || month > 12 {
		return Month{}, ValidationError("month %d out of range", month)
	}
	return Month{Year: year, Month: time.Month(month)}, nil
}

// Bounds returns the half-open interval [start, end) of the month in loc.
func (m Month) Bounds(loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// LineItem is one billed request inside a period.
type LineItem struct {
	RequestID      int64     `json:"request_id" yaml:"request_id"`
	CategoryRef    int64     `json:"category_ref" yaml:"category_ref"`
	Cost           int64     `json:"cost" yaml:"cost"`
	ElapsedSeconds int64     `json:"elapsed_seconds" yaml:"elapsed_seconds"`
	ClosedAt       time.Time `json:"closed_at" yaml:"closed_at"`
}

// NewLineItem captures the billable facts of a resolved request.
func NewLineItem(req *Request) LineItem {
	item := LineItem{
		RequestID:      req.ID,
		CategoryRef:    req.CategoryRef,
		Cost:           req.Cost,
		ElapsedSeconds: req.Time.AccumulatedSeconds,
	}
	if req.ClosedAt != nil {
		item.ClosedAt = *req.ClosedAt
	}
	return item
}

// BillingPeriod is the monthly rollup of one client's resolved requests.
type BillingPeriod struct {
	ID        string
	ClientRef int64
	Period    Month
	Status    PeriodStatus
	LineItems []LineItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Total sums the stored cost of every line item.
func (p *BillingPeriod) Total() int64 {
	var total int64
	for _, item := range p.LineItems {
		total += item.Cost
	}
	return total
}

// CategoryTotal aggregates line items of one category.
type CategoryTotal struct {
	CategoryRef int64 `json:"category_ref" yaml:"category_ref"`
	Count       int   `json:"count" yaml:"count"`
	Total       int64 `json:"total" yaml:"total"`
}

// ByCategory groups line items per category, ordered by category ref.
func (p *BillingPeriod) ByCategory() []CategoryTotal {
	index := map[int64]int{}
	var out []CategoryTotal
	for _, item := range p.LineItems {
		pos, ok := index[item.CategoryRef]
		if !ok {
			pos = len(out)
			index[item.CategoryRef] = pos
			out = append(out, CategoryTotal{CategoryRef: item.CategoryRef})
		}
		out[pos].Count++
		out[pos].Total += item.Cost
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CategoryRef < out[j].CategoryRef })
	return out
}
