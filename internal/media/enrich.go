package media

import (
	"context"

	"github.com/socialnet/backend/internal/logger"
)

// Enrichment statuses reported for video refs.
const (
	StatusUnknown    = "unknown"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusPending    = "pending"
)

// Ref is a media reference embedded in a content item.
type Ref struct {
	PublicID string `json:"public_id"`
	URL      string `json:"url"`
	Kind     Kind   `json:"kind"`
}

// EnrichedRef is a Ref with the live transcoding state joined in. Status is
// empty for non-video refs.
type EnrichedRef struct {
	Ref
	IsTranscoding        bool   `json:"is_transcoding"`
	TranscodingCompleted bool   `json:"transcoding_completed"`
	Status               string `json:"status,omitempty"`
	IsPlayable           bool   `json:"is_playable"`
}

// Enricher overlays MediaRecord state onto media refs at read time. It never
// writes.
type Enricher struct {
	lookup Lookup
	log    *logger.Logger
}

func NewEnricher(lookup Lookup, log *logger.Logger) *Enricher {
	if log == nil {
		log = logger.Default().WithComponent("enrich")
	}
	return &Enricher{lookup: lookup, log: log}
}

// Enrich returns one EnrichedRef per input ref, in input order. All video
// public ids are resolved in a single lookup. If that lookup fails, videos
// are reported as unknown and playable.
func (e *Enricher) Enrich(ctx context.Context, refs []Ref) []EnrichedRef {
	out := make([]EnrichedRef, len(refs))

	var videoIDs []string
	seen := make(map[string]bool)
	for i, ref := range refs {
		out[i] = EnrichedRef{Ref: ref, IsPlayable: true}
		if ref.Kind == KindVideo && ref.PublicID != "" && !seen[ref.PublicID] {
			seen[ref.PublicID] = true
			videoIDs = append(videoIDs, ref.PublicID)
		}
	}
	if len(videoIDs) == 0 {
		for i := range out {
			if out[i].Kind == KindVideo {
				out[i].Status = StatusUnknown
			}
		}
		return out
	}

	records, err := e.lookup.FindByPublicIDs(ctx, videoIDs)
	if err != nil {
		e.log.Warn(ctx, "media lookup failed, serving refs as-is", err, logger.Fields{
			"video_count": len(videoIDs),
		})
		records = nil
	}

	for i := range out {
		if out[i].Kind != KindVideo {
			continue
		}
		apply(&out[i], records[out[i].PublicID])
	}
	return out
}

func apply(ref *EnrichedRef, rec *Record) {
	switch {
	case rec == nil:
		ref.Status = StatusUnknown
		ref.IsPlayable = true
	case rec.IsTranscoding:
		ref.IsTranscoding = true
		ref.TranscodingCompleted = rec.TranscodingCompleted
		ref.Status = StatusProcessing
		ref.IsPlayable = false
	case rec.TranscodingCompleted:
		ref.TranscodingCompleted = true
		ref.Status = StatusCompleted
		ref.IsPlayable = true
		if rec.URL != "" {
			ref.URL = rec.URL
		}
	default:
		ref.Status = StatusPending
		ref.IsPlayable = true
	}
}
