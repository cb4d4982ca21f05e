package observability

import "testing"

const sampleID = "0d4de3de-3c44-4f0e-93a2-6f54c0a0a001"

func TestNormalizedPath(t *testing.T) {
	got := normalizedPath("/api/v1/attempts/" + sampleID + "/finalize")
	want := "/api/v1/attempts/{id}/finalize"
	if got != want {
		t.Fatalf("normalizedPath mismatch got=%s want=%s", got, want)
	}
}

func TestNormalizedPathLeavesWordsAlone(t *testing.T) {
	got := normalizedPath("/api/v1/exams/ministry")
	if got != "/api/v1/exams/ministry" {
		t.Fatalf("non-id segments must be kept, got %s", got)
	}
}

func TestExtractAttemptID(t *testing.T) {
	if id := extractAttemptID("/api/v1/attempts/" + sampleID + "/finalize"); id != sampleID {
		t.Fatalf("expected %s, got %s", sampleID, id)
	}
	if id := extractAttemptID("/api/v1/exams/" + sampleID); id != "" {
		t.Fatalf("expected empty for non-attempt path, got %s", id)
	}
	if id := extractAttemptID("/api/v1/attempts/autosave"); id != "" {
		t.Fatalf("expected empty for non-id segment, got %s", id)
	}
}
