package performance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"eduexam/internal/question"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNoStudentData = errors.New("no performance data for this student")
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// HistoryEntry is one taken exam in the student's history.
type HistoryEntry struct {
	ExamID                string    `json:"exam_id"`
	Title                 string    `json:"title"`
	Subject               string    `json:"subject"`
	Grade                 string    `json:"grade"`
	Term                  string    `json:"term"`
	Source                string    `json:"source"`
	CreatedBy             string    `json:"created_by"`
	ExamType              string    `json:"exam_type"`
	Date                  time.Time `json:"date"`
	Score                 float64   `json:"score"`
	TotalQuestions        int       `json:"total_questions"`
	PerformancePercentage int       `json:"performance_percentage"`
}

// SubjectPerformance is the per-result percentage datapoint the frontend
// charts by subject.
type SubjectPerformance struct {
	Subject               string `json:"subject"`
	PerformancePercentage int    `json:"performance_percentage"`
}

// Report is the full performance view for one student. Ministry exams get
// their own history bucket; regular exams go into ExamHistory.
type Report struct {
	Performance         []SubjectPerformance `json:"performance"`
	ExamHistory         []HistoryEntry       `json:"exam_history"`
	MinistryExamHistory []HistoryEntry       `json:"ministry_exam_history"`
	Recommendations     []string             `json:"recommendations"`
	Notifications       []string             `json:"notifications"`
}

// Comparison holds a student's rows next to the class average for the same
// subject, grade and term.
type Comparison struct {
	StudentPerformance []HistoryEntry `json:"student_performance"`
	AvgClassScore      float64        `json:"avg_class_score"`
}

type CompareInput struct {
	StudentID string
	Subject   string
	Grade     string
	Term      string
}

// resultRow is a result joined with whatever exam metadata could be
// resolved. Metadata is nullable: the exam may have been deleted, or the
// result may reference a ministry session.
type resultRow struct {
	ExamID                string
	Title                 sql.NullString
	Subject               sql.NullString
	Grade                 sql.NullString
	Term                  sql.NullString
	Source                sql.NullString
	CreatedBy             sql.NullString
	ExamType              string
	Date                  time.Time
	Score                 float64
	TotalQuestions        int
	PerformancePercentage int
}

const resultJoinQuery = `
	SELECT r.exam_id,
		COALESCE(e.title, CASE WHEN m.id IS NOT NULL THEN 'امتحان وزاري' END),
		COALESCE(e.subject, m.subject),
		COALESCE(e.grade, m.grade),
		COALESCE(e.term, m.term),
		COALESCE(e.source, m.exam_type),
		e.created_by,
		COALESCE(e.exam_type, m.exam_type, r.exam_type),
		r.date, r.score, r.total_questions, r.performance_percentage
	FROM exam_results r
	LEFT JOIN exams e ON e.id = r.exam_id
	LEFT JOIN ministry_sessions m ON m.id = r.exam_id`

// GetStudentPerformance builds the history, per-subject datapoints and
// study recommendations for one student. Results whose exam metadata
// cannot be resolved are skipped rather than failing the report.
func (s *Service) GetStudentPerformance(ctx context.Context, studentID string) (*Report, error) {
	if strings.TrimSpace(studentID) == "" {
		return nil, ErrInvalidInput
	}

	rows, err := s.db.QueryContext(ctx, resultJoinQuery+`
		WHERE r.student_id = $1
		ORDER BY r.date DESC
	`, studentID)
	if err != nil {
		return nil, fmt.Errorf("query exam results: %w", err)
	}
	defer rows.Close()

	results, err := collectResultRows(rows)
	if err != nil {
		return nil, err
	}
	return buildReport(results), nil
}

// CompareWithClassmates returns the student's rows for one subject filter
// next to the class-wide average percentage. A student with no rows is an
// error; an empty class average is simply 0.
func (s *Service) CompareWithClassmates(ctx context.Context, in CompareInput) (*Comparison, error) {
	if strings.TrimSpace(in.StudentID) == "" || strings.TrimSpace(in.Subject) == "" ||
		strings.TrimSpace(in.Grade) == "" || strings.TrimSpace(in.Term) == "" {
		return nil, ErrInvalidInput
	}

	grade := question.NormalizeGrade(in.Grade)
	term := question.NormalizeTerm(in.Term)

	rows, err := s.db.QueryContext(ctx, resultJoinQuery+`
		WHERE r.student_id = $1
			AND COALESCE(e.subject, m.subject) = $2
			AND COALESCE(e.grade, m.grade) = $3
			AND COALESCE(e.term, m.term) = $4
		ORDER BY r.date DESC
	`, in.StudentID, in.Subject, grade, term)
	if err != nil {
		return nil, fmt.Errorf("query student rows: %w", err)
	}
	defer rows.Close()

	results, err := collectResultRows(rows)
	if err != nil {
		return nil, err
	}

	student := make([]HistoryEntry, 0, len(results))
	for _, r := range results {
		if !r.Subject.Valid {
			continue
		}
		student = append(student, toHistoryEntry(r))
	}
	if len(student) == 0 {
		return nil, ErrNoStudentData
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `
		SELECT AVG(r.performance_percentage)
		FROM exam_results r
		LEFT JOIN exams e ON e.id = r.exam_id
		LEFT JOIN ministry_sessions m ON m.id = r.exam_id
		WHERE COALESCE(e.subject, m.subject) = $1
			AND COALESCE(e.grade, m.grade) = $2
			AND COALESCE(e.term, m.term) = $3
	`, in.Subject, grade, term).Scan(&avg); err != nil {
		return nil, fmt.Errorf("query class average: %w", err)
	}

	return &Comparison{
		StudentPerformance: student,
		AvgClassScore:      avg.Float64,
	}, nil
}

func collectResultRows(rows *sql.Rows) ([]resultRow, error) {
	out := []resultRow{}
	for rows.Next() {
		var r resultRow
		if err := rows.Scan(
			&r.ExamID, &r.Title, &r.Subject, &r.Grade, &r.Term,
			&r.Source, &r.CreatedBy, &r.ExamType,
			&r.Date, &r.Score, &r.TotalQuestions, &r.PerformancePercentage,
		); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate result rows: %w", err)
	}
	return out, nil
}

// buildReport folds joined result rows into the report shape. Rows with no
// resolvable subject are dropped; ministry results land in their own
// bucket; every result under 50% adds a study recommendation.
func buildReport(results []resultRow) *Report {
	report := &Report{
		Performance:         []SubjectPerformance{},
		ExamHistory:         []HistoryEntry{},
		MinistryExamHistory: []HistoryEntry{},
		Recommendations:     []string{},
		Notifications:       []string{},
	}

	if len(results) == 0 {
		report.Notifications = append(report.Notifications, "لم تقم بأي امتحان حتى الآن.")
		return report
	}

	for _, r := range results {
		if !r.Subject.Valid || strings.TrimSpace(r.Subject.String) == "" {
			continue
		}
		entry := toHistoryEntry(r)

		if entry.ExamType == "ministry" {
			report.MinistryExamHistory = append(report.MinistryExamHistory, entry)
		} else {
			report.ExamHistory = append(report.ExamHistory, entry)
		}

		report.Performance = append(report.Performance, SubjectPerformance{
			Subject:               entry.Subject,
			PerformancePercentage: entry.PerformancePercentage,
		})

		if entry.PerformancePercentage < 50 {
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("تحتاج إلى مراجعة مادة %s حيث أن أداءك أقل من 50%%.", entry.Subject))
		}
	}
	return report
}

func toHistoryEntry(r resultRow) HistoryEntry {
	return HistoryEntry{
		ExamID:                r.ExamID,
		Title:                 orUnknown(r.Title),
		Subject:               r.Subject.String,
		Grade:                 orUnknown(r.Grade),
		Term:                  orUnknown(r.Term),
		Source:                orUnknown(r.Source),
		CreatedBy:             orUnknown(r.CreatedBy),
		ExamType:              r.ExamType,
		Date:                  r.Date,
		Score:                 r.Score,
		TotalQuestions:        r.TotalQuestions,
		PerformancePercentage: r.PerformancePercentage,
	}
}

func orUnknown(v sql.NullString) string {
	if v.Valid && strings.TrimSpace(v.String) != "" {
		return v.String
	}
	return "غير معروف"
}
