package models

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseStatus(t *testing.T) {
	cases := []struct {
		raw   string
		want  Status
		valid bool
	}{
		{"todo", StatusToDo, true},
		{"ToDo", StatusToDo, true},
		{"in_progress", StatusInProgress, true},
		{"InProgress", StatusInProgress, true},
		{"done", StatusDone, true},
		{"Done", StatusDone, true},
		{"", "", false},
		{"closed", "", false},
		{"DONE", "", false},
	}

	for _, tt := range cases {
		got, err := ParseStatus(tt.raw)
		if (err == nil) != tt.valid {
			t.Fatalf("ParseStatus(%q) err=%v, want valid=%v", tt.raw, err, tt.valid)
		}
		if got != tt.want {
			t.Fatalf("ParseStatus(%q)=%q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestStatusUnmarshalRejectsUnknown(t *testing.T) {
	var patch TicketPatch
	if err := json.Unmarshal([]byte(`{"id":1,"status":"archived"}`), &patch); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestPatchDecodeKeepsAbsentFieldsNil(t *testing.T) {
	var patch TicketPatch
	if err := json.Unmarshal([]byte(`{"id":3,"status":"InProgress"}`), &patch); err != nil {
		t.Fatalf("decode patch: %v", err)
	}
	if patch.ID != 3 || patch.Title != nil || patch.Description != nil {
		t.Fatalf("unexpected patch: %+v", patch)
	}
	if patch.Status == nil || *patch.Status != StatusInProgress {
		t.Fatalf("expected in_progress status, got %v", patch.Status)
	}
}

func TestApply(t *testing.T) {
	title := "New title"
	status := StatusDone
	base := NewTicket(7, TicketDraft{Title: "T", Description: "D"})

	cases := []struct {
		name  string
		patch TicketPatch
		want  Ticket
	}{
		{
			name:  "empty patch",
			patch: TicketPatch{ID: 7},
			want:  Ticket{ID: 7, Title: "T", Description: "D", Status: StatusToDo},
		},
		{
			name:  "status only",
			patch: TicketPatch{ID: 7, Status: &status},
			want:  Ticket{ID: 7, Title: "T", Description: "D", Status: StatusDone},
		},
		{
			name:  "title and status",
			patch: TicketPatch{ID: 7, Title: &title, Status: &status},
			want:  Ticket{ID: 7, Title: "New title", Description: "D", Status: StatusDone},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := base
			got.Apply(tc.patch)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("ticket mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseTicketID(t *testing.T) {
	id, err := ParseTicketID("42")
	if err != nil || id != 42 {
		t.Fatalf("ParseTicketID(42)=%d, %v", id, err)
	}
	for _, raw := range []string{"", "-1", "abc", "1.5"} {
		if _, err := ParseTicketID(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
