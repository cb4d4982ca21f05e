package question

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrQuestionNotFound = errors.New("question not found")
)

// Source tags identify where a question came from. The three human sources
// participate in weighted mixed-exam assembly; ministry and ai are sampled
// and reported separately.
const (
	SourceBook     = "book"
	SourceTeacher  = "teacher"
	SourceSchool   = "school"
	SourceMinistry = "ministry"
	SourceAI       = "ai"
)

type Question struct {
	ID            string    `json:"id"`
	Subject       string    `json:"subject"`
	Grade         string    `json:"grade"`
	Term          string    `json:"term"`
	Source        string    `json:"source"`
	Prompt        string    `json:"prompt"`
	Options       []string  `json:"options,omitempty"`
	CorrectAnswer string    `json:"correct_answer,omitempty"`
	Explanation   string    `json:"explanation,omitempty"`
	Difficulty    string    `json:"difficulty,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Source is the read-only question provider consumed by the assembler and
// the scoring engine.
type Source interface {
	Find(ctx context.Context, subject, grade, term, sourceTag string, limit int) ([]Question, error)
	Get(ctx context.Context, id string) (*Question, error)
}

type SQLSource struct {
	db *sql.DB
}

func NewSQLSource(db *sql.DB) *SQLSource {
	return &SQLSource{db: db}
}

// Find samples up to limit questions matching the filter. Sampling is
// uniform per call; callers that need a stable order shuffle on their side.
func (s *SQLSource) Find(ctx context.Context, subject, grade, term, sourceTag string, limit int) ([]Question, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" || limit < 0 {
		return nil, ErrInvalidInput
	}
	if limit == 0 {
		return []Question{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject, grade, term, source, prompt, options, correct_answer, explanation, difficulty, created_at
		FROM questions
		WHERE subject = $1 AND grade = $2 AND term = $3 AND source = $4
		ORDER BY random()
		LIMIT $5
	`, subject, NormalizeGrade(grade), NormalizeTerm(term), sourceTag, limit)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	items := make([]Question, 0, limit)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		items = append(items, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return items, nil
}

func (s *SQLSource) Get(ctx context.Context, id string) (*Question, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidInput
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, subject, grade, term, source, prompt, options, correct_answer, explanation, difficulty, created_at
		FROM questions
		WHERE id = $1
	`, id)
	q, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("load question: %w", err)
	}
	return q, nil
}

// Insert stores a new question; the AI generation path uses this to feed
// generated questions into the bank.
func (s *SQLSource) Insert(ctx context.Context, q Question) error {
	if strings.TrimSpace(q.ID) == "" || strings.TrimSpace(q.Subject) == "" || strings.TrimSpace(q.Prompt) == "" {
		return ErrInvalidInput
	}
	optionsJSON, err := json.Marshal(q.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO questions (id, subject, grade, term, source, prompt, options, correct_answer, explanation, difficulty, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, now())
	`, q.ID, q.Subject, NormalizeGrade(q.Grade), NormalizeTerm(q.Term), q.Source, q.Prompt, optionsJSON, q.CorrectAnswer, q.Explanation, q.Difficulty); err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

func scanQuestion(scanner interface{ Scan(dest ...any) error }) (*Question, error) {
	var q Question
	var optionsJSON []byte
	var correct, explanation, difficulty sql.NullString
	if err := scanner.Scan(
		&q.ID,
		&q.Subject,
		&q.Grade,
		&q.Term,
		&q.Source,
		&q.Prompt,
		&optionsJSON,
		&correct,
		&explanation,
		&difficulty,
		&q.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(optionsJSON) > 0 {
		if err := json.Unmarshal(optionsJSON, &q.Options); err != nil {
			return nil, fmt.Errorf("decode options: %w", err)
		}
	}
	q.CorrectAnswer = correct.String
	q.Explanation = explanation.String
	q.Difficulty = difficulty.String
	return &q, nil
}

var nonDigits = regexp.MustCompile(`\D`)

// NormalizeGrade maps client inputs like "7" or "grade-7" to the stored
// "grade-7" form.
func NormalizeGrade(grade string) string {
	grade = strings.TrimSpace(grade)
	if grade == "" || strings.HasPrefix(grade, "grade-") {
		return grade
	}
	return "grade-" + grade
}

// NormalizeTerm maps "1", "term1" or "term-1" to the stored "term-1" form.
func NormalizeTerm(term string) string {
	term = strings.TrimSpace(term)
	if term == "" || strings.HasPrefix(term, "term-") {
		return term
	}
	digits := nonDigits.ReplaceAllString(term, "")
	if digits == "" {
		return term
	}
	return "term-" + digits
}
