package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/stride-data/steps.report/internal/db"
)

// DailyTotal is one local-day bucket of the chart.
type DailyTotal struct {
	Day   time.Time
	Steps int64
}

// dailyTotals buckets stored records by local day, oldest first. Records
// never span midnight, so each one lands in exactly one bucket.
func (s *Server) dailyTotals(r *http.Request, days int) ([]DailyTotal, error) {
	loc := s.store.Location()
	now := time.Now().In(loc)
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -days)

	records, err := s.store.ReadRecords(r.Context(), db.Query{From: &start, To: &end})
	if err != nil {
		return nil, err
	}

	totals := make([]DailyTotal, days)
	for i := range totals {
		totals[i].Day = start.AddDate(0, 0, i)
	}
	for _, rec := range records {
		local := rec.FromTime.In(loc)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		idx := int(day.Sub(start).Hours() / 24)
		if idx >= 0 && idx < len(totals) {
			totals[idx].Steps += rec.StepCount
		}
	}
	return totals, nil
}

// dailyChart renders a bar chart of daily step totals. The 'days' parameter
// sets the window, default 14.
func (s *Server) dailyChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	days := 14
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 365 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'days' parameter")
			return
		}
		days = parsed
	}

	totals, err := s.dailyTotals(r, days)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read records: %v", err))
		return
	}

	x := make([]string, len(totals))
	y := make([]opts.BarData, len(totals))
	for i, day := range totals {
		x[i] = day.Day.Format("Jan 2")
		y[i] = opts.BarData{Value: day.Steps}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{Title: "Daily Steps", Subtitle: time.Now().Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("steps", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
