package transcode

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestService_GetStatus(t *testing.T) {
	store := NewMemoryStore()
	seedJob(t, store, "j1", "owner", StatusQueued, time.Now())
	svc := NewService(store, nil)

	tests := []struct {
		name      string
		jobID     string
		requester string
		wantErr   error
	}{
		{"owner", "j1", "owner", nil},
		{"internal caller", "j1", "", nil},
		{"other user", "j1", "intruder", ErrForbidden},
		{"unknown job", "nope", "owner", ErrJobNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := svc.GetStatus(context.Background(), tt.jobID, tt.requester)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr == nil && job.ID != tt.jobID {
				t.Errorf("got job %s", job.ID)
			}
			if tt.wantErr != nil && job != nil {
				t.Error("record leaked alongside error")
			}
		})
	}
}

func TestService_ListJobsPagination(t *testing.T) {
	store := NewMemoryStore()
	base := time.Now()
	for i := 0; i < 7; i++ {
		seedJob(t, store, fmt.Sprintf("j%d", i), "u1", StatusQueued, base.Add(time.Duration(i)*time.Second))
	}
	svc := NewService(store, nil)

	page, err := svc.ListJobs(context.Background(), "u1", ListOptions{Page: 2, Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	want := Pagination{Page: 2, Limit: 3, Total: 7, TotalPages: 3, HasNext: true}
	if page.Pagination != want {
		t.Errorf("pagination = %+v, want %+v", page.Pagination, want)
	}
	if len(page.Jobs) != 3 || page.Jobs[0].ID != "j3" {
		t.Errorf("unexpected jobs: %v", ids(page.Jobs))
	}

	page, _ = svc.ListJobs(context.Background(), "u1", ListOptions{Page: 3, Limit: 3})
	if page.Pagination.HasNext || len(page.Jobs) != 1 {
		t.Errorf("unexpected last page: %+v", page.Pagination)
	}

	page, _ = svc.ListJobs(context.Background(), "nobody", ListOptions{})
	if page.Jobs == nil || len(page.Jobs) != 0 || page.Pagination.TotalPages != 0 {
		t.Errorf("expected empty non-nil page, got %+v", page)
	}
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		page, limit         int
		wantPage, wantLimit int
	}{
		{0, 0, 1, DefaultPageLimit},
		{-3, 10, 1, 10},
		{4, 500, 4, MaxPageLimit},
	}
	for _, tt := range tests {
		p, l := normalizePage(tt.page, tt.limit)
		if p != tt.wantPage || l != tt.wantLimit {
			t.Errorf("normalizePage(%d, %d) = %d, %d", tt.page, tt.limit, p, l)
		}
	}
}

func TestSubmitOrDegrade(t *testing.T) {
	h := newHarness(t, DispatcherConfig{QueueSize: 1})
	h.submit("first.mp4")

	job, err := SubmitOrDegrade(context.Background(), h.d, SubmitRequest{
		InputPath:   h.input("second.mp4"),
		Type:        TypePost,
		SubmittedBy: "user-1",
	})
	if err != nil || job != nil {
		t.Errorf("expected silent degrade, got %v, %v", job, err)
	}

	_, err = SubmitOrDegrade(context.Background(), h.d, SubmitRequest{Type: TypePost, SubmittedBy: "user-1"})
	if err == nil {
		t.Error("expected validation error to pass through")
	}
}
