package assembly

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"eduexam/internal/auth"

	"github.com/go-chi/chi/v5"
)

type mockAssemblyService struct {
	assembleMixedFn           func(ctx context.Context, in MixedExamInput) (*Exam, error)
	generateMinistrySessionFn func(ctx context.Context, in MinistrySessionInput) (*MinistrySession, error)
	getMinistrySessionFn      func(ctx context.Context, sessionID string) (*PopulatedSession, error)
	generateAIExamFn          func(ctx context.Context, in AIExamInput) (*Exam, error)
	listMixedExamsFn          func(ctx context.Context) ([]Exam, error)
	getExamFn                 func(ctx context.Context, examID string) (*PopulatedExam, error)
}

func (m *mockAssemblyService) AssembleMixed(ctx context.Context, in MixedExamInput) (*Exam, error) {
	if m.assembleMixedFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.assembleMixedFn(ctx, in)
}

func (m *mockAssemblyService) GenerateMinistrySession(ctx context.Context, in MinistrySessionInput) (*MinistrySession, error) {
	if m.generateMinistrySessionFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.generateMinistrySessionFn(ctx, in)
}

func (m *mockAssemblyService) GetMinistrySession(ctx context.Context, sessionID string) (*PopulatedSession, error) {
	if m.getMinistrySessionFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getMinistrySessionFn(ctx, sessionID)
}

func (m *mockAssemblyService) GenerateAIExam(ctx context.Context, in AIExamInput) (*Exam, error) {
	if m.generateAIExamFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.generateAIExamFn(ctx, in)
}

func (m *mockAssemblyService) ListMixedExams(ctx context.Context) ([]Exam, error) {
	if m.listMixedExamsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listMixedExamsFn(ctx)
}

func (m *mockAssemblyService) GetExam(ctx context.Context, examID string) (*PopulatedExam, error) {
	if m.getExamFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getExamFn(ctx, examID)
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestCreateMixedInsufficientDataMapsTo422(t *testing.T) {
	h := NewHandler(&mockAssemblyService{
		assembleMixedFn: func(ctx context.Context, in MixedExamInput) (*Exam, error) {
			return nil, ErrInsufficientData
		},
	})

	payload := []byte(`{"subject":"math","grade":"7","term":"1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/exams/mixed", bytes.NewReader(payload))
	req = req.WithContext(auth.WithUser(req.Context(), auth.Identity{UserID: "t-1", Role: "teacher"}))
	w := httptest.NewRecorder()

	h.CreateMixed(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

func TestCreateMixedUsesCallerAsCreator(t *testing.T) {
	var got MixedExamInput
	h := NewHandler(&mockAssemblyService{
		assembleMixedFn: func(ctx context.Context, in MixedExamInput) (*Exam, error) {
			got = in
			return &Exam{ID: "ex-1"}, nil
		},
	})

	payload := []byte(`{"subject":"math","grade":"7","term":"1","count":12}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/exams/mixed", bytes.NewReader(payload))
	req = req.WithContext(auth.WithUser(req.Context(), auth.Identity{UserID: "t-1", Role: "teacher"}))
	w := httptest.NewRecorder()

	h.CreateMixed(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if got.CreatedBy != "t-1" || got.Count != 12 {
		t.Fatalf("unexpected input forwarded: %+v", got)
	}
}

func TestCreateMinistrySessionForcesStudentIdentity(t *testing.T) {
	var got MinistrySessionInput
	h := NewHandler(&mockAssemblyService{
		generateMinistrySessionFn: func(ctx context.Context, in MinistrySessionInput) (*MinistrySession, error) {
			got = in
			return &MinistrySession{ID: "sess-1"}, nil
		},
	})

	payload := []byte(`{"subject":"science","grade":"9","term":"2"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/exams/ministry", bytes.NewReader(payload))
	req = req.WithContext(auth.WithUser(req.Context(), auth.Identity{UserID: "stu-2", Role: "student"}))
	w := httptest.NewRecorder()

	h.CreateMinistrySession(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if got.StudentID != "stu-2" {
		t.Fatalf("expected student_id forced to stu-2, got %q", got.StudentID)
	}
}

func TestCreateMinistrySessionNoQuestions(t *testing.T) {
	h := NewHandler(&mockAssemblyService{
		generateMinistrySessionFn: func(ctx context.Context, in MinistrySessionInput) (*MinistrySession, error) {
			return nil, ErrNoQuestionsAvailable
		},
	})

	payload := []byte(`{"subject":"science","grade":"9","term":"2"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/exams/ministry", bytes.NewReader(payload))
	req = req.WithContext(auth.WithUser(req.Context(), auth.Identity{UserID: "stu-2", Role: "student"}))
	w := httptest.NewRecorder()

	h.CreateMinistrySession(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetMinistrySessionNotFound(t *testing.T) {
	h := NewHandler(&mockAssemblyService{
		getMinistrySessionFn: func(ctx context.Context, sessionID string) (*PopulatedSession, error) {
			return nil, ErrSessionNotFound
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/exams/ministry/missing", nil)
	req = withChiParam(req, "id", "missing")
	req = req.WithContext(auth.WithUser(req.Context(), auth.Identity{UserID: "stu-2", Role: "student"}))
	w := httptest.NewRecorder()

	h.GetMinistrySession(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCreateAIGenerationFailureMapsTo502(t *testing.T) {
	h := NewHandler(&mockAssemblyService{
		generateAIExamFn: func(ctx context.Context, in AIExamInput) (*Exam, error) {
			return nil, errors.New("LLM API call: timeout")
		},
	})

	payload := []byte(`{"subject":"math","grade":"7","term":"1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/exams/ai", bytes.NewReader(payload))
	req = req.WithContext(auth.WithUser(req.Context(), auth.Identity{UserID: "t-1", Role: "teacher"}))
	w := httptest.NewRecorder()

	h.CreateAI(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}
