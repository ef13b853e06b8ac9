package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// TicketID identifies a ticket within one store instance. Ids are allocated
// in increasing order starting at zero and are never reused.
type TicketID uint64

func (id TicketID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseTicketID parses the decimal form produced by TicketID.String.
func ParseTicketID(raw string) (TicketID, error) {
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ticket id %q", raw)
	}
	return TicketID(value), nil
}

type Status string

const (
	StatusToDo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// ParseStatus accepts the canonical wire names and their CamelCase
// spellings (ToDo, InProgress, Done).
func ParseStatus(raw string) (Status, error) {
	switch raw {
	case string(StatusToDo), "ToDo":
		return StatusToDo, nil
	case string(StatusInProgress), "InProgress":
		return StatusInProgress, nil
	case string(StatusDone), "Done":
		return StatusDone, nil
	default:
		return "", fmt.Errorf("unknown status %q", raw)
	}
}

func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type Ticket struct {
	ID          TicketID `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      Status   `json:"status"`
}

type TicketDraft struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// TicketPatch is a sparse update. A nil field leaves the ticket field as it
// is; a non-nil field replaces it.
type TicketPatch struct {
	ID          TicketID `json:"id"`
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Status      *Status  `json:"status,omitempty"`
}

// NewTicket builds the ticket stored for a draft under the given id.
func NewTicket(id TicketID, draft TicketDraft) Ticket {
	return Ticket{
		ID:          id,
		Title:       draft.Title,
		Description: draft.Description,
		Status:      StatusToDo,
	}
}

func (p TicketPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil
}

// Apply copies the present fields of the patch onto the ticket. The patch id
// is not consulted; callers locate the ticket first.
func (t *Ticket) Apply(patch TicketPatch) {
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
}
