package assembly

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"eduexam/internal/generator"
	"eduexam/internal/question"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrInsufficientData     = errors.New("not enough questions available")
	ErrExamNotFound         = errors.New("exam not found")
	ErrSessionNotFound      = errors.New("exam session not found")
	ErrNoQuestionsAvailable = errors.New("no questions available for this filter")
)

// Mixed exams draw one third from teacher questions, one third from school
// questions and the remainder from book questions.
const mixedSourceShare = 0.33

// Upper bound on the candidate pool fetched before sampling a ministry
// session.
const ministryPoolLimit = 500

type questionCatalog interface {
	Find(ctx context.Context, subject, grade, term, sourceTag string, limit int) ([]question.Question, error)
	Get(ctx context.Context, id string) (*question.Question, error)
	Insert(ctx context.Context, q question.Question) error
}

type questionGenerator interface {
	Generate(ctx context.Context, req generator.Request) ([]generator.GeneratedQuestion, error)
}

type Service struct {
	db      *sql.DB
	catalog questionCatalog
	gen     questionGenerator

	// rng is shared across requests; rngMu serialises Shuffle calls since
	// rand.Rand is not safe for concurrent use.
	rngMu sync.Mutex
	rng   *rand.Rand

	mixedCount    int
	ministryCount int
}

func NewService(db *sql.DB, catalog questionCatalog, gen questionGenerator, mixedCount, ministryCount int) *Service {
	if mixedCount <= 0 {
		mixedCount = 10
	}
	if ministryCount <= 0 {
		ministryCount = 5
	}
	return &Service{
		db:            db,
		catalog:       catalog,
		gen:           gen,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		mixedCount:    mixedCount,
		ministryCount: ministryCount,
	}
}

// Exam is an assembled exam stored with question ids only; questions are
// populated on read.
type Exam struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Subject     string    `json:"subject"`
	Grade       string    `json:"grade"`
	Term        string    `json:"term"`
	ExamType    string    `json:"exam_type"`
	Source      string    `json:"source"`
	CreatedBy   string    `json:"created_by"`
	QuestionIDs []string  `json:"question_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

type PopulatedExam struct {
	Exam
	Questions []question.Question `json:"questions"`
}

// MinistrySession is one student's sampled ministry exam. Only question ids
// and the answer key are stored; prompts are served from the question bank.
type MinistrySession struct {
	ID          string            `json:"id"`
	Subject     string            `json:"subject"`
	Grade       string            `json:"grade"`
	Term        string            `json:"term"`
	StudentID   string            `json:"student_id"`
	ExamType    string            `json:"exam_type"`
	QuestionIDs []string          `json:"question_ids"`
	AnswerKey   map[string]string `json:"-"`
	CreatedAt   time.Time         `json:"created_at"`
}

// SessionQuestion is the client-facing view of a session question. The
// correct answer and explanation stay server-side until grading.
type SessionQuestion struct {
	ID         string   `json:"id"`
	Prompt     string   `json:"prompt"`
	Options    []string `json:"options,omitempty"`
	Difficulty string   `json:"difficulty,omitempty"`
}

func newSessionQuestion(q question.Question) SessionQuestion {
	return SessionQuestion{
		ID:         q.ID,
		Prompt:     q.Prompt,
		Options:    q.Options,
		Difficulty: q.Difficulty,
	}
}

type PopulatedSession struct {
	MinistrySession
	Questions []SessionQuestion `json:"questions"`
}

type MixedExamInput struct {
	Subject   string
	Grade     string
	Term      string
	CreatedBy string
	Count     int
}

type MinistrySessionInput struct {
	Subject   string
	Grade     string
	Term      string
	StudentID string
}

type AIExamInput struct {
	Subject   string
	Grade     string
	Term      string
	CreatedBy string
	Count     int
}

// MixedQuotas splits a total question count across the three human sources.
// Teacher and school each get floor(share), books take the remainder.
func MixedQuotas(total int) (teacher, school, book int) {
	teacher = int(float64(total) * mixedSourceShare)
	school = int(float64(total) * mixedSourceShare)
	book = total - teacher - school
	return teacher, school, book
}

// AssembleMixed samples questions from the teacher, school and book pools
// and stores the combined exam. A short pool yields a smaller exam; only a
// fully empty pool fails, since an exam must never have zero questions.
func (s *Service) AssembleMixed(ctx context.Context, in MixedExamInput) (*Exam, error) {
	if strings.TrimSpace(in.Subject) == "" || strings.TrimSpace(in.Grade) == "" ||
		strings.TrimSpace(in.Term) == "" || strings.TrimSpace(in.CreatedBy) == "" {
		return nil, ErrInvalidInput
	}
	total := in.Count
	if total <= 0 {
		total = s.mixedCount
	}

	teacherN, schoolN, bookN := MixedQuotas(total)

	combined := make([]question.Question, 0, total)
	for _, part := range []struct {
		source string
		limit  int
	}{
		{question.SourceTeacher, teacherN},
		{question.SourceSchool, schoolN},
		{question.SourceBook, bookN},
	} {
		qs, err := s.catalog.Find(ctx, in.Subject, in.Grade, in.Term, part.source, part.limit)
		if err != nil {
			return nil, fmt.Errorf("fetch %s questions: %w", part.source, err)
		}
		combined = append(combined, qs...)
	}

	if len(combined) == 0 {
		return nil, fmt.Errorf("%w: no questions for subject=%s grade=%s term=%s",
			ErrInsufficientData, in.Subject, in.Grade, in.Term)
	}

	ids := make([]string, 0, len(combined))
	for _, q := range combined {
		ids = append(ids, q.ID)
	}

	exam := &Exam{
		ID:          uuid.NewString(),
		Title:       fmt.Sprintf("امتحان مختلط %s - %s - %s", in.Subject, in.Grade, in.Term),
		Subject:     in.Subject,
		Grade:       question.NormalizeGrade(in.Grade),
		Term:        question.NormalizeTerm(in.Term),
		ExamType:    "mixed",
		Source:      "mixed",
		CreatedBy:   in.CreatedBy,
		QuestionIDs: ids,
	}
	if err := s.insertExam(ctx, exam); err != nil {
		return nil, err
	}
	return exam, nil
}

// GenerateMinistrySession samples from the ministry pool with a uniform
// shuffle and stores a per-student session carrying question ids and the
// answer key only.
func (s *Service) GenerateMinistrySession(ctx context.Context, in MinistrySessionInput) (*MinistrySession, error) {
	if strings.TrimSpace(in.Subject) == "" || strings.TrimSpace(in.Grade) == "" ||
		strings.TrimSpace(in.Term) == "" || strings.TrimSpace(in.StudentID) == "" {
		return nil, ErrInvalidInput
	}

	pool, err := s.catalog.Find(ctx, in.Subject, in.Grade, in.Term, question.SourceMinistry, ministryPoolLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch ministry pool: %w", err)
	}
	if len(pool) == 0 {
		return nil, ErrNoQuestionsAvailable
	}

	s.rngMu.Lock()
	picked := sampleQuestions(s.rng, pool, s.ministryCount)
	s.rngMu.Unlock()

	ids := make([]string, 0, len(picked))
	answerKey := make(map[string]string, len(picked))
	for _, q := range picked {
		ids = append(ids, q.ID)
		answerKey[q.ID] = q.CorrectAnswer
	}

	session := &MinistrySession{
		ID:          uuid.NewString(),
		Subject:     in.Subject,
		Grade:       question.NormalizeGrade(in.Grade),
		Term:        question.NormalizeTerm(in.Term),
		StudentID:   in.StudentID,
		ExamType:    "ministry",
		QuestionIDs: ids,
		AnswerKey:   answerKey,
	}

	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("marshal question ids: %w", err)
	}
	keyJSON, err := json.Marshal(answerKey)
	if err != nil {
		return nil, fmt.Errorf("marshal answer key: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO ministry_sessions (id, subject, grade, term, student_id, exam_type, question_ids, answer_key, created_at)
		VALUES ($1, $2, $3, $4, $5, 'ministry', $6::jsonb, $7::jsonb, now())
		RETURNING created_at
	`, session.ID, session.Subject, session.Grade, session.Term, session.StudentID, idsJSON, keyJSON).Scan(&session.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert ministry session: %w", err)
	}
	return session, nil
}

// GetMinistrySession loads a session and populates its questions from the
// bank. Questions deleted since the session was created are skipped.
func (s *Service) GetMinistrySession(ctx context.Context, sessionID string) (*PopulatedSession, error) {
	var sess MinistrySession
	var idsJSON, keyJSON []byte
	if err := s.db.QueryRowContext(ctx, `
		SELECT id, subject, grade, term, student_id, exam_type, question_ids, answer_key, created_at
		FROM ministry_sessions
		WHERE id = $1
	`, sessionID).Scan(
		&sess.ID, &sess.Subject, &sess.Grade, &sess.Term, &sess.StudentID,
		&sess.ExamType, &idsJSON, &keyJSON, &sess.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load ministry session: %w", err)
	}
	if err := json.Unmarshal(idsJSON, &sess.QuestionIDs); err != nil {
		return nil, fmt.Errorf("decode question ids: %w", err)
	}
	if err := json.Unmarshal(keyJSON, &sess.AnswerKey); err != nil {
		return nil, fmt.Errorf("decode answer key: %w", err)
	}

	questions := make([]SessionQuestion, 0, len(sess.QuestionIDs))
	for _, id := range sess.QuestionIDs {
		q, err := s.catalog.Get(ctx, id)
		if err != nil {
			if errors.Is(err, question.ErrQuestionNotFound) {
				continue
			}
			return nil, fmt.Errorf("populate question %s: %w", id, err)
		}
		questions = append(questions, newSessionQuestion(*q))
	}

	return &PopulatedSession{MinistrySession: sess, Questions: questions}, nil
}

// GenerateAIExam produces a fresh question batch via the LLM, stores the
// questions in the bank under the ai source and assembles them into an exam.
func (s *Service) GenerateAIExam(ctx context.Context, in AIExamInput) (*Exam, error) {
	if strings.TrimSpace(in.Subject) == "" || strings.TrimSpace(in.Grade) == "" ||
		strings.TrimSpace(in.Term) == "" || strings.TrimSpace(in.CreatedBy) == "" {
		return nil, ErrInvalidInput
	}
	if s.gen == nil {
		return nil, errors.New("question generation is not configured")
	}
	count := in.Count
	if count <= 0 {
		count = s.mixedCount
	}

	generated, err := s.gen.Generate(ctx, generator.Request{
		Subject: in.Subject,
		Grade:   in.Grade,
		Term:    in.Term,
		Count:   count,
	})
	if err != nil {
		return nil, fmt.Errorf("generate questions: %w", err)
	}
	if len(generated) == 0 {
		return nil, ErrInsufficientData
	}

	ids := make([]string, 0, len(generated))
	for _, g := range generated {
		q := question.Question{
			ID:            uuid.NewString(),
			Subject:       in.Subject,
			Grade:         in.Grade,
			Term:          in.Term,
			Source:        question.SourceAI,
			Prompt:        g.Prompt,
			Options:       g.Options,
			CorrectAnswer: g.CorrectAnswer,
			Explanation:   g.Explanation,
			Difficulty:    g.Difficulty,
		}
		if err := s.catalog.Insert(ctx, q); err != nil {
			return nil, fmt.Errorf("store generated question: %w", err)
		}
		ids = append(ids, q.ID)
	}

	exam := &Exam{
		ID:          uuid.NewString(),
		Title:       fmt.Sprintf("امتحان مولد %s - %s - %s", in.Subject, in.Grade, in.Term),
		Subject:     in.Subject,
		Grade:       question.NormalizeGrade(in.Grade),
		Term:        question.NormalizeTerm(in.Term),
		ExamType:    "ai",
		Source:      "ai",
		CreatedBy:   in.CreatedBy,
		QuestionIDs: ids,
	}
	if err := s.insertExam(ctx, exam); err != nil {
		return nil, err
	}
	return exam, nil
}

// ListMixedExams returns all stored mixed exams, newest first.
func (s *Service) ListMixedExams(ctx context.Context) ([]Exam, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, subject, grade, term, exam_type, source, created_by, question_ids, created_at
		FROM exams
		WHERE source = 'mixed'
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query mixed exams: %w", err)
	}
	defer rows.Close()

	exams := []Exam{}
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exam: %w", err)
		}
		exams = append(exams, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exams: %w", err)
	}
	return exams, nil
}

// GetExam loads one assembled exam with its questions populated.
func (s *Service) GetExam(ctx context.Context, examID string) (*PopulatedExam, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, subject, grade, term, exam_type, source, created_by, question_ids, created_at
		FROM exams
		WHERE id = $1
	`, examID)
	e, err := scanExam(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("load exam: %w", err)
	}

	questions := make([]question.Question, 0, len(e.QuestionIDs))
	for _, id := range e.QuestionIDs {
		q, err := s.catalog.Get(ctx, id)
		if err != nil {
			if errors.Is(err, question.ErrQuestionNotFound) {
				continue
			}
			return nil, fmt.Errorf("populate question %s: %w", id, err)
		}
		questions = append(questions, *q)
	}
	return &PopulatedExam{Exam: *e, Questions: questions}, nil
}

func (s *Service) insertExam(ctx context.Context, e *Exam) error {
	idsJSON, err := json.Marshal(e.QuestionIDs)
	if err != nil {
		return fmt.Errorf("marshal question ids: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO exams (id, title, subject, grade, term, exam_type, source, created_by, question_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, now())
		RETURNING created_at
	`, e.ID, e.Title, e.Subject, e.Grade, e.Term, e.ExamType, e.Source, e.CreatedBy, idsJSON).Scan(&e.CreatedAt); err != nil {
		return fmt.Errorf("insert exam: %w", err)
	}
	return nil
}

func scanExam(scanner interface{ Scan(dest ...any) error }) (*Exam, error) {
	var e Exam
	var idsJSON []byte
	if err := scanner.Scan(
		&e.ID, &e.Title, &e.Subject, &e.Grade, &e.Term,
		&e.ExamType, &e.Source, &e.CreatedBy, &idsJSON, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(idsJSON) > 0 {
		if err := json.Unmarshal(idsJSON, &e.QuestionIDs); err != nil {
			return nil, fmt.Errorf("decode question ids: %w", err)
		}
	}
	return &e, nil
}

// sampleQuestions takes up to n items from the pool after a uniform
// shuffle. The pool slice is left untouched.
func sampleQuestions(rng *rand.Rand, pool []question.Question, n int) []question.Question {
	shuffled := append([]question.Question(nil), pool...)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	if n > len(shuffled) {
		n = len(shuffled)
	}
	return shuffled[:n]
}
