package media

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/socialnet/backend/internal/logger"
)

func strPtr(s string) *string { return &s }

type countingLookup struct {
	Lookup
	calls int
	ids   [][]string
	err   error
}

func (c *countingLookup) FindByPublicIDs(ctx context.Context, ids []string) (map[string]*Record, error) {
	c.calls++
	c.ids = append(c.ids, ids)
	if c.err != nil {
		return nil, c.err
	}
	return c.Lookup.FindByPublicIDs(ctx, ids)
}

func testEnricher(l Lookup) *Enricher {
	return NewEnricher(l, logger.New(&logger.Config{Output: io.Discard}))
}

func TestEnricher_Rules(t *testing.T) {
	store := NewMemoryStore()
	store.Put(Record{PublicID: "busy", URL: "https://cdn/orig.mov", Kind: KindVideo, IsTranscoding: true, TranscodingJobID: strPtr("j1")})
	store.Put(Record{PublicID: "done", URL: "https://cdn/normalized.mp4", Kind: KindVideo, TranscodingCompleted: true, TranscodingJobID: strPtr("j2")})
	store.Put(Record{PublicID: "plain", URL: "https://cdn/plain.mp4", Kind: KindVideo})
	store.Put(Record{PublicID: "img", URL: "https://cdn/a.jpg", Kind: KindImage, IsTranscoding: true})

	tests := []struct {
		name string
		ref  Ref
		want EnrichedRef
	}{
		{
			name: "image always playable",
			ref:  Ref{PublicID: "img", URL: "https://cdn/a.jpg", Kind: KindImage},
			want: EnrichedRef{Ref: Ref{PublicID: "img", URL: "https://cdn/a.jpg", Kind: KindImage}, IsPlayable: true},
		},
		{
			name: "video without record",
			ref:  Ref{PublicID: "ghost", URL: "https://cdn/ghost.mp4", Kind: KindVideo},
			want: EnrichedRef{Ref: Ref{PublicID: "ghost", URL: "https://cdn/ghost.mp4", Kind: KindVideo}, Status: StatusUnknown, IsPlayable: true},
		},
		{
			name: "video still transcoding",
			ref:  Ref{PublicID: "busy", URL: "https://cdn/orig.mov", Kind: KindVideo},
			want: EnrichedRef{Ref: Ref{PublicID: "busy", URL: "https://cdn/orig.mov", Kind: KindVideo}, IsTranscoding: true, Status: StatusProcessing},
		},
		{
			name: "video transcoded swaps url",
			ref:  Ref{PublicID: "done", URL: "https://cdn/orig.mov", Kind: KindVideo},
			want: EnrichedRef{Ref: Ref{PublicID: "done", URL: "https://cdn/normalized.mp4", Kind: KindVideo}, TranscodingCompleted: true, Status: StatusCompleted, IsPlayable: true},
		},
		{
			name: "video never queued",
			ref:  Ref{PublicID: "plain", URL: "https://cdn/plain.mp4", Kind: KindVideo},
			want: EnrichedRef{Ref: Ref{PublicID: "plain", URL: "https://cdn/plain.mp4", Kind: KindVideo}, Status: StatusPending, IsPlayable: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := testEnricher(store).Enrich(context.Background(), []Ref{tt.ref})
			if len(got) != 1 {
				t.Fatalf("expected 1 result, got %d", len(got))
			}
			if got[0] != tt.want {
				t.Errorf("Enrich() = %+v, want %+v", got[0], tt.want)
			}
		})
	}
}

func TestEnricher_SingleBatchLookup(t *testing.T) {
	store := NewMemoryStore()
	store.Put(Record{PublicID: "v1", Kind: KindVideo, IsTranscoding: true})
	lookup := &countingLookup{Lookup: store}

	refs := []Ref{
		{PublicID: "v1", Kind: KindVideo},
		{PublicID: "i1", Kind: KindImage},
		{PublicID: "v2", Kind: KindVideo},
		{PublicID: "v1", Kind: KindVideo},
	}
	got := testEnricher(lookup).Enrich(context.Background(), refs)

	if lookup.calls != 1 {
		t.Fatalf("expected one lookup, got %d", lookup.calls)
	}
	if len(lookup.ids[0]) != 2 {
		t.Errorf("expected 2 distinct video ids, got %v", lookup.ids[0])
	}
	for i, ref := range refs {
		if got[i].PublicID != ref.PublicID {
			t.Errorf("order not preserved at %d: %s", i, got[i].PublicID)
		}
	}
	if got[0].Status != StatusProcessing || got[3].Status != StatusProcessing {
		t.Error("duplicate refs should share the record state")
	}
}

func TestEnricher_NoVideosSkipsLookup(t *testing.T) {
	lookup := &countingLookup{Lookup: NewMemoryStore()}
	got := testEnricher(lookup).Enrich(context.Background(), []Ref{{PublicID: "i", Kind: KindImage}})
	if lookup.calls != 0 {
		t.Errorf("expected no lookup, got %d", lookup.calls)
	}
	if !got[0].IsPlayable || got[0].Status != "" {
		t.Errorf("unexpected image result: %+v", got[0])
	}
}

func TestEnricher_LookupFailureFailsOpen(t *testing.T) {
	lookup := &countingLookup{Lookup: NewMemoryStore(), err: errors.New("connection refused")}
	got := testEnricher(lookup).Enrich(context.Background(), []Ref{
		{PublicID: "v", URL: "https://cdn/v.mp4", Kind: KindVideo},
		{PublicID: "i", Kind: KindImage},
	})
	if got[0].Status != StatusUnknown || !got[0].IsPlayable || got[0].URL != "https://cdn/v.mp4" {
		t.Errorf("unexpected video result: %+v", got[0])
	}
	if !got[1].IsPlayable {
		t.Error("image should stay playable")
	}
}

func TestEnricher_EmptyInput(t *testing.T) {
	if got := testEnricher(NewMemoryStore()).Enrich(context.Background(), nil); len(got) != 0 {
		t.Errorf("expected empty result, got %v", got)
	}
}
