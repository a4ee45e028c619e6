package xid

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New returns a time-ordered UUID string, optionally prefixed.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	if prefix == "" {
		return id.String()
	}
	return prefix + "-" + id.String()
}

// SaleNumber formats the human-readable sale number for day (already in the
// reporting timezone) and its per-day sequence value.
func SaleNumber(day time.Time, seq int64) string {
	return fmt.Sprintf("%s%06d", SaleNumberPrefix(DayKey(day)), seq)
}

// SaleNumberPrefix is the part shared by every sale number of a day key.
func SaleNumberPrefix(dayKey string) string {
	return "SALE-" + dayKey + "-"
}

// SaleSequence extracts the sequence value from a sale number issued for
// dayKey. ok is false for numbers of another day or a malformed suffix.
func SaleSequence(number string, dayKey string) (seq int64, ok bool) {
	suffix, found := strings.CutPrefix(number, SaleNumberPrefix(dayKey))
	if !found || suffix == "" {
		return 0, false
	}
	seq, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}

// DayKey is the compact date used for sale numbers and sequence keys.
func DayKey(day time.Time) string {
	return day.Format("20060102")
}
