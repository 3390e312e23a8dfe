package media

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStore_MarkTranscodedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Put(Record{PublicID: "p1", URL: "https://cdn/orig.mov", Kind: KindVideo, IsTranscoding: true, TranscodingJobID: strPtr("job-1")})

	rec, err := s.MarkTranscoded(ctx, "job-1", "https://cdn/out.mp4")
	if err != nil {
		t.Fatalf("MarkTranscoded: %v", err)
	}
	if rec.URL != "https://cdn/out.mp4" || rec.IsTranscoding || !rec.TranscodingCompleted {
		t.Errorf("unexpected record: %+v", rec)
	}

	if _, err := s.MarkTranscoded(ctx, "job-1", "https://cdn/other.mp4"); !errors.Is(err, ErrAlreadyTranscoded) {
		t.Errorf("expected ErrAlreadyTranscoded on replay, got %v", err)
	}
	got, _ := s.FindByJobID(ctx, "job-1")
	if got.URL != "https://cdn/out.mp4" {
		t.Errorf("replay overwrote url: %s", got.URL)
	}

	if _, err := s.MarkTranscoded(ctx, "unknown", "x"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestMemoryStore_FindByPublicIDsReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	s.Put(Record{PublicID: "p1", URL: "a", Kind: KindImage})

	found, _ := s.FindByPublicIDs(context.Background(), []string{"p1", "missing"})
	if len(found) != 1 {
		t.Fatalf("expected 1 record, got %d", len(found))
	}
	found["p1"].URL = "mutated"

	again, _ := s.FindByPublicIDs(context.Background(), []string{"p1"})
	if again["p1"].URL != "a" {
		t.Error("store returned shared record")
	}
}
