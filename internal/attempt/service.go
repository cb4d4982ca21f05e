package attempt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrAttemptNotFound = errors.New("attempt not found")
)

// Autosave outcome statuses returned to the client alongside the row.
const (
	StatusCreated          = "created"
	StatusSaved            = "saved"
	StatusAlreadyFinalized = "already_finalized"
	StatusFinalized        = "finalized"
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Attempt is one student's in-progress or finalized pass over an exam.
// The three map columns are keyed by question id; answer values are kept
// opaque because clients store free-form payloads per question type.
type Attempt struct {
	ID                   string                     `json:"id"`
	ExamID               string                     `json:"exam_id"`
	StudentID            string                     `json:"student_id"`
	TeacherID            *string                    `json:"teacher_id,omitempty"`
	CurrentQuestionIndex int                        `json:"current_question_index"`
	Answers              map[string]json.RawMessage `json:"answers"`
	QuestionStatus       map[string]string          `json:"question_status"`
	TimeSpent            map[string]int             `json:"time_spent"`
	Score                *float64                   `json:"score,omitempty"`
	IsFinalized          bool                       `json:"is_finalized"`
	ClientUpdatedAt      *time.Time                 `json:"client_updated_at,omitempty"`
	SubmittedAt          *time.Time                 `json:"submitted_at,omitempty"`
	CreatedAt            time.Time                  `json:"created_at"`
	UpdatedAt            time.Time                  `json:"updated_at"`
}

type AutosaveInput struct {
	AttemptID            string
	ExamID               string
	StudentID            string
	TeacherID            *string
	CurrentQuestionIndex *int
	Answers              map[string]json.RawMessage
	QuestionStatus       map[string]string
	TimeSpent            map[string]int
	ClientUpdatedAt      *time.Time
}

type AutosaveResult struct {
	Status  string   `json:"status"`
	Attempt *Attempt `json:"attempt"`
}

type FinalizeInput struct {
	AttemptID   string
	Score       *float64
	SubmittedAt *time.Time
}

type FinalizeResult struct {
	Status  string   `json:"status"`
	Attempt *Attempt `json:"attempt"`
}

// Autosave persists a partial snapshot of exam progress. The row is found
// by attempt id when the client supplies one and it exists, then by the
// open (exam, student) attempt; if neither matches a fresh row is created.
// A finalized attempt is never mutated: the call reports already_finalized
// and returns the row as stored.
func (s *Service) Autosave(ctx context.Context, in AutosaveInput) (*AutosaveResult, error) {
	in.AttemptID = strings.TrimSpace(in.AttemptID)
	in.ExamID = strings.TrimSpace(in.ExamID)
	in.StudentID = strings.TrimSpace(in.StudentID)
	if in.AttemptID == "" && (in.ExamID == "" || in.StudentID == "") {
		return nil, ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin autosave tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row, err := s.lockAttempt(ctx, tx, in)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if in.ExamID == "" || in.StudentID == "" {
				return nil, ErrAttemptNotFound
			}
			created, err := s.insertAttempt(ctx, tx, in)
			if err != nil {
				return nil, err
			}
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("commit autosave insert: %w", err)
			}
			return &AutosaveResult{Status: StatusCreated, Attempt: created}, nil
		}
		return nil, err
	}

	if row.IsFinalized {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit autosave noop: %w", err)
		}
		return &AutosaveResult{Status: StatusAlreadyFinalized, Attempt: row}, nil
	}

	merged := applyAutosave(row, in)

	answersJSON, statusJSON, timeJSON, err := marshalMaps(merged)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE attempts
		SET current_question_index = $2,
			answers = $3::jsonb,
			question_status = $4::jsonb,
			time_spent = $5::jsonb,
			client_updated_at = $6,
			updated_at = now()
		WHERE id = $1 AND is_finalized = FALSE
	`, merged.ID, merged.CurrentQuestionIndex, answersJSON, statusJSON, timeJSON, merged.ClientUpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the race against a concurrent finalize; report it the same
		// way as finding the row finalized up front.
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit autosave raced: %w", err)
		}
		return &AutosaveResult{Status: StatusAlreadyFinalized, Attempt: row}, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit autosave: %w", err)
	}
	return &AutosaveResult{Status: StatusSaved, Attempt: merged}, nil
}

// Finalize marks an attempt finished exactly once. Repeated calls are
// benign: the stored row is returned with status already_finalized and
// neither score nor submitted_at moves again.
func (s *Service) Finalize(ctx context.Context, in FinalizeInput) (*FinalizeResult, error) {
	in.AttemptID = strings.TrimSpace(in.AttemptID)
	if in.AttemptID == "" {
		return nil, ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin finalize tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row, err := s.loadAttemptForUpdate(ctx, tx, in.AttemptID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, err
	}

	if row.IsFinalized {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit finalize noop: %w", err)
		}
		return &FinalizeResult{Status: StatusAlreadyFinalized, Attempt: row}, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE attempts
		SET is_finalized = TRUE,
			score = COALESCE($2, score),
			submitted_at = COALESCE(submitted_at, $3, now()),
			updated_at = now()
		WHERE id = $1 AND is_finalized = FALSE
	`, row.ID, in.Score, in.SubmittedAt); err != nil {
		return nil, fmt.Errorf("update attempt final: %w", err)
	}

	final, err := s.loadAttemptForUpdate(ctx, tx, row.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit finalize: %w", err)
	}
	return &FinalizeResult{Status: StatusFinalized, Attempt: final}, nil
}

// Get loads one attempt for resume or review.
func (s *Service) Get(ctx context.Context, attemptID string) (*Attempt, error) {
	row := s.db.QueryRowContext(ctx, selectAttempt+` WHERE id = $1`, attemptID)
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	return a, nil
}

// GetOwner returns the student id that owns an attempt, for handler-side
// access checks.
func (s *Service) GetOwner(ctx context.Context, attemptID string) (string, error) {
	var studentID string
	if err := s.db.QueryRowContext(ctx, `
		SELECT student_id
		FROM attempts
		WHERE id = $1
	`, attemptID).Scan(&studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrAttemptNotFound
		}
		return "", fmt.Errorf("load attempt owner: %w", err)
	}
	return studentID, nil
}

const selectAttempt = `
	SELECT id, exam_id, student_id, teacher_id, current_question_index,
		answers, question_status, time_spent,
		score, is_finalized, client_updated_at, submitted_at,
		created_at, updated_at
	FROM attempts`

func (s *Service) lockAttempt(ctx context.Context, tx *sql.Tx, in AutosaveInput) (*Attempt, error) {
	if in.AttemptID != "" {
		row := tx.QueryRowContext(ctx, selectAttempt+` WHERE id = $1 FOR UPDATE`, in.AttemptID)
		a, err := scanAttempt(row)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("lock attempt by id: %w", err)
		}
		// The client may resume with a stale local id. Fall back to the
		// open (exam, student) attempt instead of failing the save.
		if in.ExamID == "" || in.StudentID == "" {
			return nil, err
		}
	}
	row := tx.QueryRowContext(ctx, selectAttempt+`
		WHERE exam_id = $1 AND student_id = $2 AND is_finalized = FALSE
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE`, in.ExamID, in.StudentID)
	a, err := scanAttempt(row)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lock open attempt: %w", err)
	}
	return a, err
}

func (s *Service) loadAttemptForUpdate(ctx context.Context, tx *sql.Tx, attemptID string) (*Attempt, error) {
	row := tx.QueryRowContext(ctx, selectAttempt+` WHERE id = $1 FOR UPDATE`, attemptID)
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock attempt: %w", err)
	}
	return a, nil
}

func (s *Service) insertAttempt(ctx context.Context, tx *sql.Tx, in AutosaveInput) (*Attempt, error) {
	fresh := &Attempt{
		ID:             uuid.NewString(),
		ExamID:         in.ExamID,
		StudentID:      in.StudentID,
		TeacherID:      in.TeacherID,
		Answers:        map[string]json.RawMessage{},
		QuestionStatus: map[string]string{},
		TimeSpent:      map[string]int{},
	}
	merged := applyAutosave(fresh, in)

	answersJSON, statusJSON, timeJSON, err := marshalMaps(merged)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO attempts (
			id,
			exam_id,
			student_id,
			teacher_id,
			current_question_index,
			answers,
			question_status,
			time_spent,
			is_finalized,
			client_updated_at,
			created_at,
			updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8::jsonb, FALSE, $9, now(), now())
		RETURNING id, exam_id, student_id, teacher_id, current_question_index,
			answers, question_status, time_spent,
			score, is_finalized, client_updated_at, submitted_at,
			created_at, updated_at
	`,
		merged.ID, merged.ExamID, merged.StudentID, merged.TeacherID,
		merged.CurrentQuestionIndex, answersJSON, statusJSON, timeJSON, merged.ClientUpdatedAt)

	created, err := scanAttempt(row)
	if err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}
	return created, nil
}

// applyAutosave merges a snapshot into an attempt without touching the
// original. Scalar fields overwrite only when supplied; the three map
// fields merge key-wise so an autosave carrying answers for questions
// 3..5 cannot erase questions 1..2 saved earlier.
func applyAutosave(base *Attempt, in AutosaveInput) *Attempt {
	out := *base
	out.Answers = cloneRawMap(base.Answers)
	out.QuestionStatus = cloneStringMap(base.QuestionStatus)
	out.TimeSpent = cloneIntMap(base.TimeSpent)

	if in.CurrentQuestionIndex != nil {
		out.CurrentQuestionIndex = *in.CurrentQuestionIndex
	}
	if in.TeacherID != nil {
		out.TeacherID = in.TeacherID
	}
	if in.ClientUpdatedAt != nil {
		out.ClientUpdatedAt = in.ClientUpdatedAt
	}
	for k, v := range in.Answers {
		out.Answers[k] = v
	}
	for k, v := range in.QuestionStatus {
		out.QuestionStatus[k] = v
	}
	for k, v := range in.TimeSpent {
		out.TimeSpent[k] = v
	}
	return &out
}

func cloneRawMap(m map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneIntMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func marshalMaps(a *Attempt) ([]byte, []byte, []byte, error) {
	answersJSON, err := json.Marshal(a.Answers)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal answers: %w", err)
	}
	statusJSON, err := json.Marshal(a.QuestionStatus)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal question status: %w", err)
	}
	timeJSON, err := json.Marshal(a.TimeSpent)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal time spent: %w", err)
	}
	return answersJSON, statusJSON, timeJSON, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAttempt(row rowScanner) (*Attempt, error) {
	var a Attempt
	var teacherID sql.NullString
	var score sql.NullFloat64
	var clientUpdatedAt, submittedAt sql.NullTime
	var answersJSON, statusJSON, timeJSON []byte

	if err := row.Scan(
		&a.ID,
		&a.ExamID,
		&a.StudentID,
		&teacherID,
		&a.CurrentQuestionIndex,
		&answersJSON,
		&statusJSON,
		&timeJSON,
		&score,
		&a.IsFinalized,
		&clientUpdatedAt,
		&submittedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if teacherID.Valid {
		a.TeacherID = &teacherID.String
	}
	if score.Valid {
		a.Score = &score.Float64
	}
	if clientUpdatedAt.Valid {
		a.ClientUpdatedAt = &clientUpdatedAt.Time
	}
	if submittedAt.Valid {
		a.SubmittedAt = &submittedAt.Time
	}

	a.Answers = map[string]json.RawMessage{}
	a.QuestionStatus = map[string]string{}
	a.TimeSpent = map[string]int{}
	if len(answersJSON) > 0 {
		if err := json.Unmarshal(answersJSON, &a.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}
	if len(statusJSON) > 0 {
		if err := json.Unmarshal(statusJSON, &a.QuestionStatus); err != nil {
			return nil, fmt.Errorf("decode question status: %w", err)
		}
	}
	if len(timeJSON) > 0 {
		if err := json.Unmarshal(timeJSON, &a.TimeSpent); err != nil {
			return nil, fmt.Errorf("decode time spent: %w", err)
		}
	}
	return &a, nil
}
