package assembly

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"eduexam/internal/app/apiresp"
	"eduexam/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc assemblyService
}

type assemblyService interface {
	AssembleMixed(ctx context.Context, in MixedExamInput) (*Exam, error)
	GenerateMinistrySession(ctx context.Context, in MinistrySessionInput) (*MinistrySession, error)
	GetMinistrySession(ctx context.Context, sessionID string) (*PopulatedSession, error)
	GenerateAIExam(ctx context.Context, in AIExamInput) (*Exam, error)
	ListMixedExams(ctx context.Context) ([]Exam, error)
	GetExam(ctx context.Context, examID string) (*PopulatedExam, error)
}

func NewHandler(svc assemblyService) *Handler {
	return &Handler{svc: svc}
}

type assembleRequest struct {
	Subject string `json:"subject"`
	Grade   string `json:"grade"`
	Term    string `json:"term"`
	Count   int    `json:"count"`
}

type ministrySessionRequest struct {
	Subject   string `json:"subject"`
	Grade     string `json:"grade"`
	Term      string `json:"term"`
	StudentID string `json:"student_id"`
}

func (h *Handler) CreateMixed(w http.ResponseWriter, r *http.Request) {
	var req assembleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	ident, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	if strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Grade) == "" || strings.TrimSpace(req.Term) == "" {
		apiresp.WriteError(w, r, http.StatusBadRequest, "subject, grade and term are required")
		return
	}

	exam, err := h.svc.AssembleMixed(r.Context(), MixedExamInput{
		Subject:   req.Subject,
		Grade:     req.Grade,
		Term:      req.Term,
		CreatedBy: ident.UserID,
		Count:     req.Count,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, r, http.StatusBadRequest, "invalid input")
		case errors.Is(err, ErrInsufficientData):
			apiresp.WriteError(w, r, http.StatusUnprocessableEntity, "not enough questions available for this filter")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}

	apiresp.WriteOK(w, r, http.StatusCreated, exam)
}

func (h *Handler) ListMixed(w http.ResponseWriter, r *http.Request) {
	exams, err := h.svc.ListMixedExams(r.Context())
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, exams)
}

func (h *Handler) GetExam(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "id")
	exam, err := h.svc.GetExam(r.Context(), examID)
	if err != nil {
		if errors.Is(err, ErrExamNotFound) {
			apiresp.WriteError(w, r, http.StatusNotFound, "exam not found")
			return
		}
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, exam)
}

func (h *Handler) CreateMinistrySession(w http.ResponseWriter, r *http.Request) {
	var req ministrySessionRequest
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
	} else if studentID == "" {
		apiresp.WriteError(w, r, http.StatusBadRequest, "student_id is required for admin/teacher")
		return
	}

	session, err := h.svc.GenerateMinistrySession(r.Context(), MinistrySessionInput{
		Subject:   req.Subject,
		Grade:     req.Grade,
		Term:      req.Term,
		StudentID: studentID,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, r, http.StatusBadRequest, "subject, grade and term are required")
		case errors.Is(err, ErrNoQuestionsAvailable):
			apiresp.WriteError(w, r, http.StatusNotFound, "no questions available for this subject")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}

	apiresp.WriteOK(w, r, http.StatusCreated, session)
}

func (h *Handler) GetMinistrySession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	session, err := h.svc.GetMinistrySession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			apiresp.WriteError(w, r, http.StatusNotFound, "exam session not found")
			return
		}
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, session)
}

func (h *Handler) CreateAI(w http.ResponseWriter, r *http.Request) {
	var req assembleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	ident, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	exam, err := h.svc.GenerateAIExam(r.Context(), AIExamInput{
		Subject:   req.Subject,
		Grade:     req.Grade,
		Term:      req.Term,
		CreatedBy: ident.UserID,
		Count:     req.Count,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, r, http.StatusBadRequest, "subject, grade and term are required")
		case errors.Is(err, ErrInsufficientData):
			apiresp.WriteError(w, r, http.StatusUnprocessableEntity, "generation produced no usable questions")
		default:
			apiresp.WriteError(w, r, http.StatusBadGateway, "question generation failed")
		}
		return
	}

	apiresp.WriteOK(w, r, http.StatusCreated, exam)
}
