// Package transcode owns transcoding job records, the bounded dispatch queue
// and the completion event stream.
package transcode

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is a job's position in QUEUED -> PROCESSING -> COMPLETED|FAILED.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// ParseStatus accepts any letter case. The empty string is not a status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// IsTerminal returns true if the job will never change again
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether from -> to is a legal forward step.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// JobType selects which content the completed asset is reconciled against.
type JobType string

const (
	TypePost   JobType = "post"
	TypeReel   JobType = "reel"
	TypeStory  JobType = "story"
	TypeMedia  JobType = "media"
	TypeCourse JobType = "course"
)

func ParseJobType(s string) (JobType, error) {
	t := JobType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TypePost, TypeReel, TypeStory, TypeMedia, TypeCourse:
		return t, nil
	}
	return "", fmt.Errorf("unknown job type %q", s)
}

// Target is the content a job belongs to. The concrete type fixes the job
// type; only CourseTarget carries linkage.
type Target interface {
	JobType() JobType
	target()
}

type PostTarget struct{}
type ReelTarget struct{}
type StoryTarget struct{}
type MediaTarget struct{}

// CourseTarget points at the course video item that becomes READY when the
// encode completes.
type CourseTarget struct {
	ContentItemID string `json:"content_item_id"`
	CollectionID  string `json:"collection_id"`
	CreatorID     string `json:"creator_id"`
}

func (PostTarget) JobType() JobType   { return TypePost }
func (ReelTarget) JobType() JobType   { return TypeReel }
func (StoryTarget) JobType() JobType  { return TypeStory }
func (MediaTarget) JobType() JobType  { return TypeMedia }
func (CourseTarget) JobType() JobType { return TypeCourse }

func (PostTarget) target()   {}
func (ReelTarget) target()   {}
func (StoryTarget) target()  {}
func (MediaTarget) target()  {}
func (CourseTarget) target() {}

// Linkage is the wire form of CourseTarget used by submitters.
type Linkage struct {
	ContentItemID string `json:"content_item_id"`
	CollectionID  string `json:"collection_id"`
	CreatorID     string `json:"creator_id"`
}

var ErrMissingLinkage = errors.New("course jobs require linkage with content item, collection and creator ids")

// NewTarget builds the target for t. Course jobs need all three linkage ids;
// linkage is ignored for other types.
func NewTarget(t JobType, linkage *Linkage) (Target, error) {
	switch t {
	case TypePost:
		return PostTarget{}, nil
	case TypeReel:
		return ReelTarget{}, nil
	case TypeStory:
		return StoryTarget{}, nil
	case TypeMedia:
		return MediaTarget{}, nil
	case TypeCourse:
		if linkage == nil || linkage.ContentItemID == "" || linkage.CollectionID == "" || linkage.CreatorID == "" {
			return nil, ErrMissingLinkage
		}
		return CourseTarget(*linkage), nil
	}
	return nil, fmt.Errorf("unknown job type %q", t)
}

// EncodeTarget returns the JSON payload persisted next to the job type.
// Targets without linkage encode as null.
func EncodeTarget(t Target) ([]byte, error) {
	if ct, ok := t.(CourseTarget); ok {
		return json.Marshal(ct)
	}
	return []byte("null"), nil
}

// DecodeTarget reverses EncodeTarget.
func DecodeTarget(t JobType, payload []byte) (Target, error) {
	if t != TypeCourse {
		return NewTarget(t, nil)
	}
	var l Linkage
	if err := json.Unmarshal(payload, &l); err != nil {
		return nil, fmt.Errorf("decode course target: %w", err)
	}
	return NewTarget(t, &l)
}

// Output is the uploaded, normalized asset of a completed job.
type Output struct {
	URL             string  `json:"url"`
	Key             string  `json:"key"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	DurationSeconds float64 `json:"duration_seconds"`
	FileSizeBytes   int64   `json:"file_size_bytes"`
}

// Job is a transcoding job record. Error is set only when FAILED and Result
// only when COMPLETED.
type Job struct {
	ID               string     `json:"id"`
	InputPath        string     `json:"input_path"`
	Type             JobType    `json:"job_type"`
	SubmittedBy      string     `json:"submitted_by"`
	OriginalFilename string     `json:"original_filename"`
	Target           Target     `json:"-"`
	Status           Status     `json:"status"`
	Error            string     `json:"error,omitempty"`
	Result           *Output    `json:"result,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// Linkage returns the course linkage, or nil for other job types.
func (j *Job) Linkage() *Linkage {
	if ct, ok := j.Target.(CourseTarget); ok {
		l := Linkage(ct)
		return &l
	}
	return nil
}

// Clone returns a copy that shares no mutable state with j.
func (j *Job) Clone() *Job {
	c := *j
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

type jobAlias Job

type jobJSON struct {
	*jobAlias
	Linkage *Linkage `json:"linkage,omitempty"`
}

func (j Job) MarshalJSON() ([]byte, error) {
	return json.Marshal(jobJSON{jobAlias: (*jobAlias)(&j), Linkage: j.Linkage()})
}

func (j *Job) UnmarshalJSON(data []byte) error {
	aux := jobJSON{jobAlias: (*jobAlias)(j)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	target, err := NewTarget(j.Type, aux.Linkage)
	if err != nil {
		return err
	}
	j.Target = target
	return nil
}

// apply performs tr on j, which must be in tr.From.
func (j *Job) apply(tr Transition) {
	at := tr.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	j.Status = tr.To
	j.UpdatedAt = at
	switch tr.To {
	case StatusProcessing:
		j.StartedAt = &at
	case StatusCompleted:
		j.CompletedAt = &at
		if tr.Result != nil {
			r := *tr.Result
			j.Result = &r
		}
	case StatusFailed:
		j.CompletedAt = &at
		j.Error = tr.Error
	}
}
