package grading

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"eduexam/internal/app/apiresp"
	"eduexam/internal/auth"
)

type Handler struct {
	svc gradingService
}

type gradingService interface {
	SubmitAnswer(ctx context.Context, in SubmitAnswerInput) (*SubmitAnswerResult, error)
	RecordExamResult(ctx context.Context, in RecordExamResultInput) (*ExamResult, error)
}

func NewHandler(svc gradingService) *Handler {
	return &Handler{svc: svc}
}

type submitAnswerRequest struct {
	ExamID          string `json:"exam_id"`
	StudentID       string `json:"student_id"`
	QuestionID      string `json:"question_id"`
	SubmittedAnswer string `json:"submitted_answer"`
}

type recordResultRequest struct {
	ExamID         string   `json:"exam_id"`
	StudentID      string   `json:"student_id"`
	Score          *float64 `json:"score"`
	TotalQuestions *int     `json:"total_questions"`
	ExamType       string   `json:"exam_type"`
}

func (h *Handler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req submitAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	studentID, ok := resolveStudentID(w, r, req.StudentID)
	if !ok {
		return
	}
	if strings.TrimSpace(req.ExamID) == "" || strings.TrimSpace(req.QuestionID) == "" || strings.TrimSpace(req.SubmittedAnswer) == "" {
		apiresp.WriteError(w, r, http.StatusBadRequest, "exam_id, question_id and submitted_answer are required")
		return
	}

	res, err := h.svc.SubmitAnswer(r.Context(), SubmitAnswerInput{
		ExamID:          req.ExamID,
		StudentID:       studentID,
		QuestionID:      req.QuestionID,
		SubmittedAnswer: req.SubmittedAnswer,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, r, http.StatusBadRequest, "invalid input")
		case errors.Is(err, ErrQuestionNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, "question not found")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}

	apiresp.WriteOK(w, r, http.StatusOK, res)
}

func (h *Handler) RecordResult(w http.ResponseWriter, r *http.Request) {
	var req recordResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	studentID, ok := resolveStudentID(w, r, req.StudentID)
	if !ok {
		return
	}
	if strings.TrimSpace(req.ExamID) == "" || strings.TrimSpace(req.ExamType) == "" || req.Score == nil || req.TotalQuestions == nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "exam_id, exam_type, score and total_questions are required")
		return
	}

	result, err := h.svc.RecordExamResult(r.Context(), RecordExamResultInput{
		StudentID:      studentID,
		ExamID:         req.ExamID,
		Score:          *req.Score,
		TotalQuestions: *req.TotalQuestions,
		ExamType:       req.ExamType,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			apiresp.WriteError(w, r, http.StatusBadRequest, "invalid input")
			return
		}
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	apiresp.WriteOK(w, r, http.StatusCreated, result)
}

// resolveStudentID enforces that students only act on their own records
// while teachers and admins may pass an explicit student_id.
func resolveStudentID(w http.ResponseWriter, r *http.Request, requested string) (string, bool) {
	ident, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return "", false
	}

	requested = strings.TrimSpace(requested)
	privileged := ident.Role == "admin" || ident.Role == "teacher"
	if privileged {
		if requested == "" {
			apiresp.WriteError(w, r, http.StatusBadRequest, "student_id is required for admin/teacher")
			return "", false
		}
		return requested, true
	}
	if requested != "" && requested != ident.UserID {
		apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
		return "", false
	}
	return ident.UserID, true
}
