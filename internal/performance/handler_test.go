package performance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"eduexam/internal/auth"
)

type mockPerformanceService struct {
	getStudentPerformanceFn func(ctx context.Context, studentID string) (*Report, error)
	compareFn               func(ctx context.Context, in CompareInput) (*Comparison, error)
	exportFn                func(ctx context.Context, studentID string) ([]byte, error)
}

func (m *mockPerformanceService) GetStudentPerformance(ctx context.Context, studentID string) (*Report, error) {
	if m.getStudentPerformanceFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getStudentPerformanceFn(ctx, studentID)
}

func (m *mockPerformanceService) CompareWithClassmates(ctx context.Context, in CompareInput) (*Comparison, error) {
	if m.compareFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.compareFn(ctx, in)
}

func (m *mockPerformanceService) ExportPerformanceExcel(ctx context.Context, studentID string) ([]byte, error) {
	if m.exportFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.exportFn(ctx, studentID)
}

func TestGetPerformanceForcesStudentIdentity(t *testing.T) {
	var gotStudentID string
	h := NewHandler(&mockPerformanceService{
		getStudentPerformanceFn: func(ctx context.Context, studentID string) (*Report, error) {
			gotStudentID = studentID
			return &Report{}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/performance", nil)
	req = req.WithContext(auth.WithUser(req.Context(), auth.Identity{UserID: "stu-4", Role: "student"}))
	w := httptest.NewRecorder()

	h.GetPerformance(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotStudentID != "stu-4" {
		t.Fatalf("expected student forced to own id, got %q", gotStudentID)
	}
}

func TestGetPerformanceForbiddenForOtherStudent(t *testing.T) {
	h := NewHandler(&mockPerformanceService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/performance?student_id=stu-other", nil)
	req = req.WithContext(auth.WithUser(req.Context(), auth.Identity{UserID: "stu-4", Role: "student"}))
	w := httptest.NewRecorder()

	h.GetPerformance(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestGetPerformanceTeacherRequiresStudentID(t *testing.T) {
	h := NewHandler(&mockPerformanceService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/performance", nil)
	req = req.WithContext(auth.WithUser(req.Context(), auth.Identity{UserID: "t-2", Role: "teacher"}))
	w := httptest.NewRecorder()

	h.GetPerformance(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCompareNoStudentDataMapsTo404(t *testing.T) {
	h := NewHandler(&mockPerformanceService{
		compareFn: func(ctx context.Context, in CompareInput) (*Comparison, error) {
			return nil, ErrNoStudentData
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/performance/compare?subject=math&grade=7&term=1", nil)
	req = req.WithContext(auth.WithUser(req.Context(), auth.Identity{UserID: "stu-4", Role: "student"}))
	w := httptest.NewRecorder()

	h.Compare(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCompareRequiresFilter(t *testing.T) {
	h := NewHandler(&mockPerformanceService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/performance/compare?subject=math", nil)
	req = req.WithContext(auth.WithUser(req.Context(), auth.Identity{UserID: "stu-4", Role: "student"}))
	w := httptest.NewRecorder()

	h.Compare(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestExportSetsAttachmentHeaders(t *testing.T) {
	h := NewHandler(&mockPerformanceService{
		exportFn: func(ctx context.Context, studentID string) ([]byte, error) {
			return []byte("xlsx-bytes"), nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/performance/export", nil)
	req = req.WithContext(auth.WithUser(req.Context(), auth.Identity{UserID: "stu-4", Role: "student"}))
	w := httptest.NewRecorder()

	h.Export(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Fatalf("expected attachment disposition, got %q", cd)
	}
}
