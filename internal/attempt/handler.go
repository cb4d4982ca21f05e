package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"eduexam/internal/app/apiresp"
	"eduexam/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc attemptService
}

type attemptService interface {
	Autosave(ctx context.Context, in AutosaveInput) (*AutosaveResult, error)
	Finalize(ctx context.Context, in FinalizeInput) (*FinalizeResult, error)
	Get(ctx context.Context, attemptID string) (*Attempt, error)
	GetOwner(ctx context.Context, attemptID string) (string, error)
}

func NewHandler(svc attemptService) *Handler {
	return &Handler{svc: svc}
}

type autosaveRequest struct {
	AttemptID            string                     `json:"attempt_id"`
	ExamID               string                     `json:"exam_id"`
	StudentID            string                     `json:"student_id"`
	TeacherID            *string                    `json:"teacher_id"`
	CurrentQuestionIndex *int                       `json:"current_question_index"`
	Answers              map[string]json.RawMessage `json:"answers"`
	QuestionStatus       map[string]string          `json:"question_status"`
	TimeSpent            map[string]int             `json:"time_spent"`
	ClientUpdatedAt      *time.Time                 `json:"client_updated_at"`
}

type finalizeRequest struct {
	Score       *float64   `json:"score"`
	SubmittedAt *time.Time `json:"submitted_at"`
}

func (h *Handler) Autosave(w http.ResponseWriter, r *http.Request) {
	var req autosaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	ident, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	studentID := strings.TrimSpace(req.StudentID)
	privileged := ident.Role == "admin" || ident.Role == "teacher"
	if !privileged {
		if studentID != "" && studentID != ident.UserID {
			apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
			return
		}
		studentID = ident.UserID
	}

	if strings.TrimSpace(req.AttemptID) == "" && strings.TrimSpace(req.ExamID) == "" {
		apiresp.WriteError(w, r, http.StatusBadRequest, "attempt_id or exam_id is required")
		return
	}

	res, err := h.svc.Autosave(r.Context(), AutosaveInput{
		AttemptID:            req.AttemptID,
		ExamID:               req.ExamID,
		StudentID:            studentID,
		TeacherID:            req.TeacherID,
		CurrentQuestionIndex: req.CurrentQuestionIndex,
		Answers:              req.Answers,
		QuestionStatus:       req.QuestionStatus,
		TimeSpent:            req.TimeSpent,
		ClientUpdatedAt:      req.ClientUpdatedAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, r, http.StatusBadRequest, "invalid input")
		case errors.Is(err, ErrAttemptNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, "attempt not found")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}

	status := http.StatusOK
	if res.Status == StatusCreated {
		status = http.StatusCreated
	}
	apiresp.WriteOK(w, r, status, res)
}

func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "id")
	if !h.authorizeAttemptAccess(w, r, attemptID) {
		return
	}

	var req finalizeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	res, err := h.svc.Finalize(r.Context(), FinalizeInput{
		AttemptID:   attemptID,
		Score:       req.Score,
		SubmittedAt: req.SubmittedAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, r, http.StatusBadRequest, "invalid input")
		case errors.Is(err, ErrAttemptNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, "attempt not found")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}

	apiresp.WriteOK(w, r, http.StatusOK, res)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "id")
	if !h.authorizeAttemptAccess(w, r, attemptID) {
		return
	}

	a, err := h.svc.Get(r.Context(), attemptID)
	if err != nil {
		if errors.Is(err, ErrAttemptNotFound) {
			apiresp.WriteError(w, r, http.StatusNotFound, "attempt not found")
			return
		}
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	apiresp.WriteOK(w, r, http.StatusOK, a)
}

// authorizeAttemptAccess lets admins and teachers through and checks
// ownership for everyone else.
func (h *Handler) authorizeAttemptAccess(w http.ResponseWriter, r *http.Request, attemptID string) bool {
	if strings.TrimSpace(attemptID) == "" {
		apiresp.WriteError(w, r, http.StatusBadRequest, "attempt id is required")
		return false
	}
	ident, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return false
	}
	if ident.Role == "admin" || ident.Role == "teacher" {
		return true
	}
	owner, err := h.svc.GetOwner(r.Context(), attemptID)
	if err != nil {
		if errors.Is(err, ErrAttemptNotFound) {
			apiresp.WriteError(w, r, http.StatusNotFound, "attempt not found")
			return false
		}
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return false
	}
	if owner != ident.UserID {
		apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}
