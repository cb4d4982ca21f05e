package grading

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"eduexam/internal/question"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrQuestionNotFound = errors.New("question not found")
)

type Service struct {
	db  *sql.DB
	src question.Source
}

func NewService(db *sql.DB, src question.Source) *Service {
	return &Service{db: db, src: src}
}

type SubmitAnswerInput struct {
	ExamID          string
	StudentID       string
	QuestionID      string
	SubmittedAnswer string
}

type SubmitAnswerResult struct {
	IsCorrect     bool   `json:"is_correct"`
	CorrectAnswer string `json:"correct_answer"`
}

type RecordExamResultInput struct {
	StudentID      string
	ExamID         string
	Score          float64
	TotalQuestions int
	ExamType       string
}

type ExamResult struct {
	ID                    string    `json:"id"`
	ExamID                string    `json:"exam_id"`
	StudentID             string    `json:"student_id"`
	Score                 float64   `json:"score"`
	TotalQuestions        int       `json:"total_questions"`
	PerformancePercentage int       `json:"performance_percentage"`
	ExamType              string    `json:"exam_type"`
	Date                  time.Time `json:"date"`
}

// SubmitAnswer grades one submitted answer against the question's correct
// answer via the equivalence table and appends it to the result's answer
// log. The log is append-only: resubmitting the same question adds a new
// entry instead of replacing the previous one.
func (s *Service) SubmitAnswer(ctx context.Context, in SubmitAnswerInput) (*SubmitAnswerResult, error) {
	if strings.TrimSpace(in.ExamID) == "" || strings.TrimSpace(in.StudentID) == "" ||
		strings.TrimSpace(in.QuestionID) == "" || strings.TrimSpace(in.SubmittedAnswer) == "" {
		return nil, ErrInvalidInput
	}

	q, err := s.src.Get(ctx, in.QuestionID)
	if err != nil {
		if errors.Is(err, question.ErrQuestionNotFound) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("load question: %w", err)
	}

	correctAnswer := strings.TrimSpace(q.CorrectAnswer)
	isCorrect := Match(correctAnswer, in.SubmittedAnswer)

	// Upsert the result shell keyed on the natural identity tuple, then
	// append the log entry. The ON CONFLICT upsert keeps concurrent
	// submissions from creating duplicate result rows. The shell's exam
	// type comes from the referenced exam or ministry session;
	// RecordExamResult later overwrites it with the caller's value.
	var resultID string
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO exam_results (id, exam_id, student_id, score, total_questions, performance_percentage, exam_type, date, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, 0,
			COALESCE(
				(SELECT exam_type FROM exams WHERE id = $2),
				(SELECT exam_type FROM ministry_sessions WHERE id = $2),
				''),
			now(), now(), now())
		ON CONFLICT (exam_id, student_id)
		DO UPDATE SET updated_at = now()
		RETURNING id
	`, uuid.NewString(), in.ExamID, in.StudentID).Scan(&resultID); err != nil {
		return nil, fmt.Errorf("upsert exam result: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO result_answers (result_id, question_id, answer, is_correct, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, resultID, in.QuestionID, strings.TrimSpace(in.SubmittedAnswer), isCorrect); err != nil {
		return nil, fmt.Errorf("append answer log: %w", err)
	}

	return &SubmitAnswerResult{IsCorrect: isCorrect, CorrectAnswer: correctAnswer}, nil
}

// RecordExamResult creates or overwrites the single result row for an
// (exam, student) pair. A repeated submission replaces the previous result
// instead of duplicating it.
func (s *Service) RecordExamResult(ctx context.Context, in RecordExamResultInput) (*ExamResult, error) {
	if strings.TrimSpace(in.ExamID) == "" || strings.TrimSpace(in.StudentID) == "" ||
		strings.TrimSpace(in.ExamType) == "" || in.TotalQuestions < 0 || in.Score < 0 {
		return nil, ErrInvalidInput
	}

	percentage := ComputePercentage(in.Score, in.TotalQuestions)

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO exam_results (id, exam_id, student_id, score, total_questions, performance_percentage, exam_type, date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now(), now())
		ON CONFLICT (exam_id, student_id)
		DO UPDATE SET
			score = EXCLUDED.score,
			total_questions = EXCLUDED.total_questions,
			performance_percentage = EXCLUDED.performance_percentage,
			exam_type = EXCLUDED.exam_type,
			date = now(),
			updated_at = now()
		RETURNING id, exam_id, student_id, score, total_questions, performance_percentage, exam_type, date
	`, uuid.NewString(), in.ExamID, in.StudentID, in.Score, in.TotalQuestions, percentage, in.ExamType)

	var out ExamResult
	if err := row.Scan(
		&out.ID,
		&out.ExamID,
		&out.StudentID,
		&out.Score,
		&out.TotalQuestions,
		&out.PerformancePercentage,
		&out.ExamType,
		&out.Date,
	); err != nil {
		return nil, fmt.Errorf("upsert exam result: %w", err)
	}
	return &out, nil
}

// ComputePercentage derives the integer performance percentage, clamped to
// [0,100] to guard against caller-supplied score > totalQuestions. A zero
// or negative total yields 0.
func ComputePercentage(score float64, totalQuestions int) int {
	if totalQuestions <= 0 {
		return 0
	}
	p := int(math.Round(score / float64(totalQuestions) * 100))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
