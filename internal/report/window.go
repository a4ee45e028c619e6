package report

import (
	"fmt"
	"strings"
	"time"

	"salesledger/backend/internal/domain"
)

const DateLayout = "2006-01-02"

// Window is a range of whole local days: [From, To) where To is midnight
// after the last included day.
type Window struct {
	Start string
	End   string
	From  time.Time
	To    time.Time
}

func ParseWindow(start, end string, loc *time.Location) (Window, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" || end == "" {
		return Window{}, fmt.Errorf("%w: start and end dates are required", domain.ErrInvalidRequest)
	}
	from, err := time.ParseInLocation(DateLayout, start, loc)
	if err != nil {
		return Window{}, fmt.Errorf("%w: start date must be YYYY-MM-DD", domain.ErrInvalidRequest)
	}
	last, err := time.ParseInLocation(DateLayout, end, loc)
	if err != nil {
		return Window{}, fmt.Errorf("%w: end date must be YYYY-MM-DD", domain.ErrInvalidRequest)
	}
	if last.Before(from) {
		return Window{}, fmt.Errorf("%w: end date is before start date", domain.ErrInvalidRequest)
	}
	return Window{
		Start: start,
		End:   end,
		From:  from,
		To:    last.AddDate(0, 0, 1),
	}, nil
}

// ParseOptionalWindow returns nil when both dates are empty.
func ParseOptionalWindow(start, end string, loc *time.Location) (*Window, error) {
	if strings.TrimSpace(start) == "" && strings.TrimSpace(end) == "" {
		return nil, nil
	}
	w, err := ParseWindow(start, end, loc)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (w *Window) Contains(t time.Time) bool {
	if w == nil {
		return true
	}
	return !t.Before(w.From) && t.Before(w.To)
}

// Bounds returns the window as UTC instants for store queries.
func (w *Window) Bounds() (*time.Time, *time.Time) {
	if w == nil {
		return nil, nil
	}
	from, to := w.From.UTC(), w.To.UTC()
	return &from, &to
}
