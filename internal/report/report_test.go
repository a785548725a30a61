package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "class_report.csv"))
}

func sampleRows() []Row {
	return []Row{
		{RollNo: "101", Name: "Asha Verma", Department: "CSE", Section: "A", Date: "2026-03-02", Time: "09:00:12", Status: "Present", PresentPct: 31.25, AttentivePct: 80.0, DominantEmotion: "happy"},
		{RollNo: "102", Name: "Ravi Kumar", Department: "ECE", Section: "B", Date: "2026-03-02", Time: "09:00:12", Status: "Absent", PresentPct: 0, AttentivePct: 0, DominantEmotion: "N/A"},
	}
}

func TestAppendWritesHeaderOnce(t *testing.T) {
	s := testStore(t)

	if err := s.Append(sampleRows()); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append([]Row{{RollNo: "101", Date: "2026-03-03", Time: "10:15:00", Status: "Present", PresentPct: 12.5, AttentivePct: 100, DominantEmotion: "neutral"}}); err != nil {
		t.Fatalf("second Append failed: %v", err)
	}

	raw, err := os.ReadFile(s.CSVPath)
	if err != nil {
		t.Fatal(err)
	}
	content := string(raw)
	if n := strings.Count(content, "Roll No"); n != 1 {
		t.Errorf("expected the header exactly once, found it %d times", n)
	}
	if !strings.HasPrefix(content, strings.Join(Header, ",")) {
		t.Errorf("unexpected header line: %q", strings.SplitN(content, "\n", 2)[0])
	}
	if !strings.Contains(content, "31.25") || !strings.Contains(content, "0.00") {
		t.Errorf("percentages should carry two decimals: %q", content)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	s := testStore(t)
	if err := s.Append(sampleRows()); err != nil {
		t.Fatal(err)
	}

	rows, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Status != "Present" || rows[0].PresentPct != 31.25 {
		t.Errorf("row mismatch: %+v", rows[0])
	}
	if rows[1].DominantEmotion != "N/A" {
		t.Errorf("absent row should keep N/A emotion: %+v", rows[1])
	}
}

func TestLoadMissingFile(t *testing.T) {
	s := testStore(t)
	rows, err := s.Load()
	if err != nil {
		t.Fatalf("missing report should load as empty, got %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %d", len(rows))
	}
}

func TestSessions(t *testing.T) {
	s := testStore(t)
	rows := []Row{
		{RollNo: "1", Date: "2026-03-01", Time: "09:00:00", Status: "Present"},
		{RollNo: "2", Date: "2026-03-01", Time: "09:00:00", Status: "Absent"},
		{RollNo: "1", Date: "2026-03-02", Time: "09:00:00", Status: "Present"},
		{RollNo: "1", Date: "2026-03-01", Time: "14:30:00", Status: "Present"},
	}
	if err := s.Append(rows); err != nil {
		t.Fatal(err)
	}

	keys, err := s.Sessions()
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	want := []SessionKey{
		{Date: "2026-03-02", Time: "09:00:00"},
		{Date: "2026-03-01", Time: "14:30:00"},
		{Date: "2026-03-01", Time: "09:00:00"},
	}
	if len(keys) != len(want) {
		t.Fatalf("expected %d unique sessions, got %d", len(want), len(keys))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %v, want %v", i, keys[i], want[i])
		}
	}
}

func TestForSession(t *testing.T) {
	s := testStore(t)
	if err := s.Append(sampleRows()); err != nil {
		t.Fatal(err)
	}

	rows, err := s.ForSession("2026-03-02", "09:00:12")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Errorf("expected 2 rows for the session, got %d", len(rows))
	}

	rows, err = s.ForSession("2026-03-02", "23:59:59")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows for unknown session, got %d", len(rows))
	}
}

func TestTodaySummary(t *testing.T) {
	s := testStore(t)
	rows := []Row{
		{RollNo: "1", Date: "2026-03-02", Time: "09:00:00", Status: "Present"},
		{RollNo: "2", Date: "2026-03-02", Time: "09:00:00", Status: "Absent"},
		{RollNo: "1", Date: "2026-03-02", Time: "14:00:00", Status: "Present"},
		{RollNo: "1", Date: "2026-03-01", Time: "09:00:00", Status: "Present"},
	}
	if err := s.Append(rows); err != nil {
		t.Fatal(err)
	}

	sum, err := s.TodaySummary("2026-03-02", 2)
	if err != nil {
		t.Fatal(err)
	}
	// Counts run over every session held today.
	if sum.Present != 2 || sum.Absent != 1 {
		t.Errorf("summary = %+v, want Present 2 / Absent 1", sum)
	}
	if len(sum.Recent) != 3 {
		t.Errorf("expected 3 recent sessions, got %d", len(sum.Recent))
	}

	// A day with no sessions shows everyone absent.
	sum, err = s.TodaySummary("2026-03-05", 7)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Present != 0 || sum.Absent != 7 {
		t.Errorf("empty day summary = %+v, want 0/7", sum)
	}
}

func TestExportXLSX(t *testing.T) {
	s := testStore(t)
	if err := s.Append(sampleRows()); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	n, err := s.ExportXLSX(&buf)
	if err != nil {
		t.Fatalf("ExportXLSX failed: %v", err)
	}
	if n != 2 {
		t.Errorf("exported %d rows, want 2", n)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("exported workbook does not open: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "Roll No" || rows[1][0] != "101" || rows[2][6] != "Absent" {
		t.Errorf("unexpected sheet contents: %v", rows)
	}
}
