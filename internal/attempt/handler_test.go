package attempt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"eduexam/internal/auth"

	"github.com/go-chi/chi/v5"
)

type mockAttemptService struct {
	autosaveFn func(ctx context.Context, in AutosaveInput) (*AutosaveResult, error)
	finalizeFn func(ctx context.Context, in FinalizeInput) (*FinalizeResult, error)
	getFn      func(ctx context.Context, attemptID string) (*Attempt, error)
	getOwnerFn func(ctx context.Context, attemptID string) (string, error)
}

func (m *mockAttemptService) Autosave(ctx context.Context, in AutosaveInput) (*AutosaveResult, error) {
	if m.autosaveFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.autosaveFn(ctx, in)
}

func (m *mockAttemptService) Finalize(ctx context.Context, in FinalizeInput) (*FinalizeResult, error) {
	if m.finalizeFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.finalizeFn(ctx, in)
}

func (m *mockAttemptService) Get(ctx context.Context, attemptID string) (*Attempt, error) {
	if m.getFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getFn(ctx, attemptID)
}

func (m *mockAttemptService) GetOwner(ctx context.Context, attemptID string) (string, error) {
	if m.getOwnerFn == nil {
		return "", errors.New("not implemented")
	}
	return m.getOwnerFn(ctx, attemptID)
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestAutosaveForcesStudentIdentity(t *testing.T) {
	var got AutosaveInput
	h := NewHandler(&mockAttemptService{
		autosaveFn: func(ctx context.Context, in AutosaveInput) (*AutosaveResult, error) {
			got = in
			return &AutosaveResult{Status: StatusSaved, Attempt: &Attempt{ID: "at-1"}}, nil
		},
	})

	payload := []byte(`{"exam_id":"ex-1","answers":{"q1":"أ"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/attempts/autosave", bytes.NewReader(payload))
	req = req.WithContext(auth.WithUser(req.Context(), auth.Identity{UserID: "stu-5", Role: "student"}))
	w := httptest.NewRecorder()

	h.Autosave(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got.StudentID != "stu-5" {
		t.Fatalf("expected student_id forced to stu-5, got %q", got.StudentID)
	}
	if string(got.Answers["q1"]) != `"أ"` {
		t.Fatalf("answers not forwarded: %v", got.Answers)
	}
}

func TestAutosaveCreatedReturns201(t *testing.T) {
	h := NewHandler(&mockAttemptService{
		autosaveFn: func(ctx context.Context, in AutosaveInput) (*AutosaveResult, error) {
			return &AutosaveResult{Status: StatusCreated, Attempt: &Attempt{ID: "at-new"}}, nil
		},
	})

	payload := []byte(`{"exam_id":"ex-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/attempts/autosave", bytes.NewReader(payload))
	req = req.WithContext(auth.WithUser(req.Context(), auth.Identity{UserID: "stu-5", Role: "student"}))
	w := httptest.NewRecorder()

	h.Autosave(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
}

func TestAutosaveRejectsOtherStudent(t *testing.T) {
	called := false
	h := NewHandler(&mockAttemptService{
		autosaveFn: func(ctx context.Context, in AutosaveInput) (*AutosaveResult, error) {
			called = true
			return nil, nil
		},
	})

	payload := []byte(`{"exam_id":"ex-1","student_id":"stu-other"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/attempts/autosave", bytes.NewReader(payload))
	req = req.WithContext(auth.WithUser(req.Context(), auth.Identity{UserID: "stu-5", Role: "student"}))
	w := httptest.NewRecorder()

	h.Autosave(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if called {
		t.Fatalf("service should not be called when forbidden")
	}
}

func TestAutosaveRequiresAttemptOrExam(t *testing.T) {
	h := NewHandler(&mockAttemptService{})

	payload := []byte(`{"answers":{"q1":"A"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/attempts/autosave", bytes.NewReader(payload))
	req = req.WithContext(auth.WithUser(req.Context(), auth.Identity{UserID: "stu-5", Role: "student"}))
	w := httptest.NewRecorder()

	h.Autosave(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestFinalizeForbiddenForNonOwner(t *testing.T) {
	finalizeCalled := false
	h := NewHandler(&mockAttemptService{
		getOwnerFn: func(ctx context.Context, attemptID string) (string, error) { return "stu-99", nil },
		finalizeFn: func(ctx context.Context, in FinalizeInput) (*FinalizeResult, error) {
			finalizeCalled = true
			return &FinalizeResult{}, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/attempts/at-1/finalize", nil)
	req = withChiParam(req, "id", "at-1")
	req = req.WithContext(auth.WithUser(req.Context(), auth.Identity{UserID: "stu-5", Role: "student"}))
	w := httptest.NewRecorder()

	h.Finalize(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if finalizeCalled {
		t.Fatalf("finalize should not be called for non-owner")
	}
}

func TestFinalizeIdempotentResponse(t *testing.T) {
	score := 8.0
	stored := &Attempt{ID: "at-1", StudentID: "stu-5", Score: &score, IsFinalized: true}
	calls := 0
	h := NewHandler(&mockAttemptService{
		getOwnerFn: func(ctx context.Context, attemptID string) (string, error) { return "stu-5", nil },
		finalizeFn: func(ctx context.Context, in FinalizeInput) (*FinalizeResult, error) {
			calls++
			if calls == 1 {
				return &FinalizeResult{Status: StatusFinalized, Attempt: stored}, nil
			}
			return &FinalizeResult{Status: StatusAlreadyFinalized, Attempt: stored}, nil
		},
	})

	call := func() map[string]interface{} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/attempts/at-1/finalize", bytes.NewReader([]byte(`{"score":8}`)))
		req = withChiParam(req, "id", "at-1")
		req = req.WithContext(auth.WithUser(req.Context(), auth.Identity{UserID: "stu-5", Role: "student"}))
		w := httptest.NewRecorder()
		h.Finalize(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var out map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		return out
	}

	first := call()
	second := call()

	firstAttempt, _ := json.Marshal(first["data"].(map[string]interface{})["attempt"])
	secondAttempt, _ := json.Marshal(second["data"].(map[string]interface{})["attempt"])
	if string(firstAttempt) != string(secondAttempt) {
		t.Fatalf("repeated finalize must return the same stored attempt")
	}
	if second["data"].(map[string]interface{})["status"] != StatusAlreadyFinalized {
		t.Fatalf("second finalize should report already_finalized")
	}
}

func TestGetAttemptNotFound(t *testing.T) {
	h := NewHandler(&mockAttemptService{
		getOwnerFn: func(ctx context.Context, attemptID string) (string, error) { return "", ErrAttemptNotFound },
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/attempts/missing", nil)
	req = withChiParam(req, "id", "missing")
	req = req.WithContext(auth.WithUser(req.Context(), auth.Identity{UserID: "stu-5", Role: "student"}))
	w := httptest.NewRecorder()

	h.Get(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetAttemptAllowedForTeacher(t *testing.T) {
	ownerCalled := false
	h := NewHandler(&mockAttemptService{
		getOwnerFn: func(ctx context.Context, attemptID string) (string, error) {
			ownerCalled = true
			return "stu-99", nil
		},
		getFn: func(ctx context.Context, attemptID string) (*Attempt, error) {
			return &Attempt{ID: attemptID, StudentID: "stu-99"}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/attempts/at-7", nil)
	req = withChiParam(req, "id", "at-7")
	req = req.WithContext(auth.WithUser(req.Context(), auth.Identity{UserID: "t-1", Role: "teacher"}))
	w := httptest.NewRecorder()

	h.Get(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ownerCalled {
		t.Fatalf("owner lookup should be skipped for teacher/admin")
	}
}
