package roster

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Header is the canonical students.csv column order.
var Header = []string{"roll_no", "name", "department", "section", "image_path", "email", "phone"}

// required are the columns a roster file must carry to be usable.
var required = []string{"roll_no", "name", "department", "section", "image_path"}

// Student is one registered student row.
type Student struct {
	RollNo     string
	Name       string
	Department string
	Section    string
	ImagePath  string
	Email      string
	Phone      string
}

// PhotoFile is the bare filename of the student's photo, which is what the
// dashboard's /student_image route serves.
func (st Student) PhotoFile() string {
	if st.ImagePath == "" {
		return ""
	}
	return path.Base(filepath.ToSlash(st.ImagePath))
}

// DuplicateError reports which field of a new registration collides with an
// existing student. Its text is shown to users as-is.
type DuplicateError struct {
	Field string
	Value string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s %s is already registered", e.Field, e.Value)
}

// Store reads and appends the students CSV and manages the photo folder.
// There is no locking: the roster relies on single-writer append discipline.
type Store struct {
	CSVPath  string
	PhotoDir string
}

func NewStore(csvPath, photoDir string) *Store {
	return &Store{CSVPath: csvPath, PhotoDir: photoDir}
}

// Load reads every student row. Header names and cell values are trimmed,
// so hand-edited files with stray spaces still parse. A missing file is an
// empty roster, not an error.
func (s *Store) Load() ([]Student, error) {
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
		return nil, fmt.Errorf("failed to read roster header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}

	var missing []string
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%s is missing required columns: %s", s.CSVPath, strings.Join(missing, ", "))
	}

	cell := func(record []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var students []Student
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read roster row: %w", err)
		}

		st := Student{
			RollNo:     cell(record, "roll_no"),
			Name:       cell(record, "name"),
			Department: cell(record, "department"),
			Section:    cell(record, "section"),
			ImagePath:  cell(record, "image_path"),
			Email:      cell(record, "email"),
			Phone:      cell(record, "phone"),
		}
		if st.RollNo == "" {
			continue
		}
		students = append(students, st)
	}
	return students, nil
}

// Validate applies the registration field rules in the order users see them.
func Validate(st Student) error {
	if st.RollNo == "" || st.Name == "" || st.Department == "" || st.Section == "" {
		return fmt.Errorf("Roll No, Name, Department, and Section are required")
	}
	if st.Email == "" {
		return fmt.Errorf("Email is required")
	}
	if st.Phone == "" {
		return fmt.Errorf("Phone number is required")
	}
	if !isTenDigits(st.Phone) {
		return fmt.Errorf("Phone number must contain exactly 10 digits")
	}
	return nil
}

func isTenDigits(s string) bool {
	if len(s) != 10 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Conflict scans the roster for an existing student with the same roll
// number, email (case-insensitive), or phone. It returns nil when the
// registration is unique.
func (s *Store) Conflict(st Student) error {
	students, err := s.Load()
	if err != nil {
		return err
	}
	for _, existing := range students {
		if existing.RollNo == st.RollNo {
			return &DuplicateError{Field: "Roll No", Value: st.RollNo}
		}
		if st.Email != "" && existing.Email != "" && strings.EqualFold(existing.Email, st.Email) {
			return &DuplicateError{Field: "Email", Value: st.Email}
		}
		if st.Phone != "" && existing.Phone == st.Phone {
			return &DuplicateError{Field: "Phone", Value: st.Phone}
		}
	}
	return nil
}

// Append adds one student row, creating the file with the canonical header
// when it does not exist yet.
func (s *Store) Append(st Student) error {
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
			return fmt.Errorf("failed to write roster header: %w", err)
		}
	}
	row := []string{st.RollNo, st.Name, st.Department, st.Section, st.ImagePath, st.Email, st.Phone}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("failed to write roster row: %w", err)
	}
	w.Flush()
	return w.Error()
}

// SavePhoto stores a student photo as <roll_no><ext> under the photo dir and
// returns the stored path with forward slashes, which is what goes into the
// image_path column.
func (s *Store) SavePhoto(rollNo, filename string, r io.Reader) (string, error) {
	// The roll number comes straight from the form; reduce it to a bare
	// filename so it cannot climb out of the photo dir.
	rollNo = path.Base(filepath.ToSlash(rollNo))
	if rollNo == "" || rollNo == "." || rollNo == ".." || rollNo == "/" {
		return "", fmt.Errorf("roll number %q cannot name a photo file", rollNo)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".jpg"
	}
	if err := os.MkdirAll(s.PhotoDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create photo dir: %w", err)
	}

	dst := filepath.Join(s.PhotoDir, rollNo+ext)
	file, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("failed to create photo file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, r); err != nil {
		return "", fmt.Errorf("failed to save photo: %w", err)
	}
	return filepath.ToSlash(dst), nil
}

// Filter returns the students matching the department and section filters.
// Empty filters match everything; comparisons are case-insensitive.
func Filter(students []Student, department, section string) []Student {
	out := make([]Student, 0, len(students))
	for _, st := range students {
		if department != "" && !strings.EqualFold(st.Department, department) {
			continue
		}
		if section != "" && !strings.EqualFold(st.Section, section) {
			continue
		}
		out = append(out, st)
	}
	return out
}

// Departments returns the sorted unique department values for dropdowns.
func Departments(students []Student) []string {
	return uniqueSorted(students, func(st Student) string { return st.Department })
}

// Sections returns the sorted unique section values for dropdowns.
func Sections(students []Student) []string {
	return uniqueSorted(students, func(st Student) string { return st.Section })
}

func uniqueSorted(students []Student, field func(Student) string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, st := range students {
		v := field(st)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
