package httpapi

import (
	"bytes"
	"encoding/csv"
	"errors"
	"slices"
	"strconv"

	"salesledger/backend/internal/domain"
)

var errUnsupportedFormat = errors.New("unsupported format, use json or csv")

// salesReportToCSV flattens the report into section,key,value rows with the
// daily breakdown in date order.
func salesReportToCSV(report domain.SalesReport) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	rows := [][]string{
		{"section", "key", "value"},
		{"summary", "start_date", report.StartDate},
		{"summary", "end_date", report.EndDate},
		{"summary", "timezone", report.Timezone},
		{"summary", "total_sales", strconv.Itoa(report.TotalSales)},
		{"summary", "total_revenue", report.TotalRevenue.StringFixed(2)},
		{"summary", "total_vat", report.TotalVAT.StringFixed(2)},
		{"summary", "total_discount", report.TotalDiscount.StringFixed(2)},
		{"summary", "total_cogs", report.TotalCOGS.StringFixed(2)},
		{"summary", "profit", report.Profit.StringFixed(2)},
	}

	days := make([]string, 0, len(report.DailyBreakdown))
	for day := range report.DailyBreakdown {
		days = append(days, day)
	}
	slices.Sort(days)
	for _, day := range days {
		bucket := report.DailyBreakdown[day]
		rows = append(rows,
			[]string{"daily", day + "_count", strconv.Itoa(bucket.Count)},
			[]string{"daily", day + "_revenue", bucket.Revenue.StringFixed(2)},
		)
	}

	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
