package performance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"eduexam/internal/app/apiresp"
	"eduexam/internal/auth"
)

type Handler struct {
	svc performanceService
}

type performanceService interface {
	GetStudentPerformance(ctx context.Context, studentID string) (*Report, error)
	CompareWithClassmates(ctx context.Context, in CompareInput) (*Comparison, error)
	ExportPerformanceExcel(ctx context.Context, studentID string) ([]byte, error)
}

func NewHandler(svc performanceService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) GetPerformance(w http.ResponseWriter, r *http.Request) {
	studentID, ok := resolveStudentID(w, r)
	if !ok {
		return
	}

	report, err := h.svc.GetStudentPerformance(r.Context(), studentID)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			apiresp.WriteError(w, r, http.StatusBadRequest, "student_id is required")
			return
		}
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, report)
}

func (h *Handler) Compare(w http.ResponseWriter, r *http.Request) {
	studentID, ok := resolveStudentID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	subject := strings.TrimSpace(q.Get("subject"))
	grade := strings.TrimSpace(q.Get("grade"))
	term := strings.TrimSpace(q.Get("term"))
	if subject == "" || grade == "" || term == "" {
		apiresp.WriteError(w, r, http.StatusBadRequest, "subject, grade and term are required")
		return
	}

	cmp, err := h.svc.CompareWithClassmates(r.Context(), CompareInput{
		StudentID: studentID,
		Subject:   subject,
		Grade:     grade,
		Term:      term,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, r, http.StatusBadRequest, "invalid input")
		case errors.Is(err, ErrNoStudentData):
			apiresp.WriteError(w, r, http.StatusNotFound, "no performance data for this student")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, cmp)
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	studentID, ok := resolveStudentID(w, r)
	if !ok {
		return
	}

	data, err := h.svc.ExportPerformanceExcel(r.Context(), studentID)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	filename := fmt.Sprintf("performance-%s-%s.xlsx", studentID, time.Now().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// resolveStudentID reads student_id from the query for privileged callers
// and pins students to their own id.
func resolveStudentID(w http.ResponseWriter, r *http.Request) (string, bool) {
	ident, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return "", false
	}

	requested := strings.TrimSpace(r.URL.Query().Get("student_id"))
	if ident.Role == "admin" || ident.Role == "teacher" {
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
