package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Header is the fixed class_report.csv column order. The "(approx)" suffix
// exists because the present percentage divides by every frame read, not
// only the sampled ones.
var Header = []string{
	"Roll No", "Name", "Department", "Section",
	"Session Date", "Session Time", "Status",
	"% Time Present (approx)", "% Time Attentive", "Dominant Emotion",
}

// Row is one student's result for one session.
type Row struct {
	RollNo          string
	Name            string
	Department      string
	Section         string
	Date            string
	Time            string
	Status          string
	PresentPct      float64
	AttentivePct    float64
	DominantEmotion string
}

// SessionKey identifies one monitor run.
type SessionKey struct {
	Date string
	Time string
}

// Summary feeds the dashboard homepage.
type Summary struct {
	TotalStudents int
	Present       int
	Absent        int
	Recent        []SessionKey
}

// Store appends and reads the session report CSV. Rows are append-only:
// a session's results are written once and never updated in place.
type Store struct {
	CSVPath string
}

func NewStore(csvPath string) *Store {
	return &Store{CSVPath: csvPath}
}

// Append writes the given rows, creating the file with its header first
// when it does not exist yet.
func (s *Store) Append(rows []Row) error {
	if err := os.MkdirAll(filepath.Dir(s.CSVPath), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	_, statErr := os.Stat(s.CSVPath)
	isNew := os.IsNotExist(statErr)

	file, err := os.OpenFile(s.CSVPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.CSVPath, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if isNew {
		if err := w.Write(Header); err != nil {
			return fmt.Errorf("failed to write report header: %w", err)
		}
	}
	for _, row := range rows {
		record := []string{
			row.RollNo, row.Name, row.Department, row.Section,
			row.Date, row.Time, row.Status,
			strconv.FormatFloat(row.PresentPct, 'f', 2, 64),
			strconv.FormatFloat(row.AttentivePct, 'f', 2, 64),
			row.DominantEmotion,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write report row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// Load reads every report row, trimming header names and cells so a
// hand-edited file still parses. A missing file is an empty report.
func (s *Store) Load() ([]Row, error) {
	file, err := os.Open(s.CSVPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", s.CSVPath, err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read report header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	cell := func(record []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	pct := func(record []string, name string) float64 {
		v, err := strconv.ParseFloat(cell(record, name), 64)
		if err != nil {
			return 0
		}
		return v
	}

	var rows []Row
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read report row: %w", err)
		}
		rows = append(rows, Row{
			RollNo:          cell(record, "Roll No"),
			Name:            cell(record, "Name"),
			Department:      cell(record, "Department"),
			Section:         cell(record, "Section"),
			Date:            cell(record, "Session Date"),
			Time:            cell(record, "Session Time"),
			Status:          cell(record, "Status"),
			PresentPct:      pct(record, "% Time Present (approx)"),
			AttentivePct:    pct(record, "% Time Attentive"),
			DominantEmotion: cell(record, "Dominant Emotion"),
		})
	}
	return rows, nil
}

// Sessions lists the unique (date, time) pairs, newest first.
func (s *Store) Sessions() ([]SessionKey, error) {
	rows, err := s.Load()
	if err != nil {
		return nil, err
	}

	seen := make(map[SessionKey]bool)
	var keys []SessionKey
	for _, row := range rows {
		k := SessionKey{Date: row.Date, Time: row.Time}
		if k.Date == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}

	// ISO dates and zero-padded times sort correctly as strings.
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Date != keys[j].Date {
			return keys[i].Date > keys[j].Date
		}
		return keys[i].Time > keys[j].Time
	})
	return keys, nil
}

// ForSession returns the rows of one session.
func (s *Store) ForSession(date, time string) ([]Row, error) {
	rows, err := s.Load()
	if err != nil {
		return nil, err
	}
	var out []Row
	for _, row := range rows {
		if row.Date == date && row.Time == time {
			out = append(out, row)
		}
	}
	return out, nil
}

// TodaySummary counts today's Present and Absent rows across all of today's
// sessions. When today has no rows at all, every registered student counts
// as absent for display purposes.
func (s *Store) TodaySummary(today string, totalStudents int) (Summary, error) {
	rows, err := s.Load()
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{TotalStudents: totalStudents}
	todayRows := 0
	for _, row := range rows {
		if row.Date != today {
			continue
		}
		todayRows++
		switch row.Status {
		case "Present":
			sum.Present++
		case "Absent":
			sum.Absent++
		}
	}
	if todayRows == 0 {
		sum.Absent = totalStudents
	}

	keys, err := s.Sessions()
	if err != nil {
		return Summary{}, err
	}
	if len(keys) > 10 {
		keys = keys[:10]
	}
	sum.Recent = keys
	return sum, nil
}
