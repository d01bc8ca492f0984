// Package notify dispatches reader notifications. Delivery is best-effort:
// callers use Send, which logs failures instead of returning them.
package notify

import (
	"context"
	"fmt"
	"log"
	"time"
)

type Event string

const (
	EventBorrowCode      Event = "borrow-code"
	EventReturnCode      Event = "return-code"
	EventBorrowApproved  Event = "borrow-approved"
	EventBorrowRejected  Event = "borrow-rejected"
	EventBorrowCompleted Event = "borrow-completed"
	EventReturnCompleted Event = "return-completed"
	EventOverdue         Event = "overdue"
)

func (e Event) Valid() bool {
	switch e {
	case EventBorrowCode, EventReturnCode, EventBorrowApproved, EventBorrowRejected,
		EventBorrowCompleted, EventReturnCompleted, EventOverdue:
		return true
	}
	return false
}

type BookLine struct {
	Title          string
	ManagementCode string
	DueDate        time.Time
	DaysOverdue    int
}

// Payload carries the event data. Fields irrelevant to an event stay zero.
type Payload struct {
	CodeID    int64
	Code      string
	ExpiresAt time.Time
	LoanRef   string
	RequestID int64
	DueDate   time.Time
	Reason    string
	Books     []BookLine
}

type Message struct {
	To      string // email address
	Name    string // display name
	Event   Event
	Payload Payload
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Send delivers msg and reports whether it went out. Errors are logged only.
func Send(ctx context.Context, n Notifier, msg Message) bool {
	if n == nil {
		return false
	}
	if msg.To == "" {
		log.Printf("[WARN] notify %s: recipient has no email", msg.Event)
		return false
	}
	if err := n.Notify(ctx, msg); err != nil {
		log.Printf("[WARN] notify %s to %s failed: %v", msg.Event, msg.To, err)
		return false
	}
	return true
}

// LogNotifier writes notifications to the log instead of sending them.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, msg Message) error {
	if !msg.Event.Valid() {
		return fmt.Errorf("unknown event %q", msg.Event)
	}
	p := msg.Payload
	switch msg.Event {
	case EventBorrowCode, EventReturnCode:
		log.Printf("[INFO] notify %s to=%s code_id=%d code=%s expires=%s", msg.Event, msg.To, p.CodeID, p.Code, p.ExpiresAt.Format(time.RFC3339))
	default:
		log.Printf("[INFO] notify %s to=%s books=%d", msg.Event, msg.To, len(p.Books))
	}
	return nil
}
