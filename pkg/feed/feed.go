// Package feed republishes task cache snapshots to a message topic so other
// processes can follow the task list without querying the document store.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/alaap-nair/studysync/pkg/model"
	"github.com/alaap-nair/studysync/pkg/taskstore"
)

// Publisher sends one message and waits for the broker to accept it.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) error
}

// Message is the JSON body of every published snapshot.
type Message struct {
	Version uint64        `json:"version"`
	Error   string        `json:"error,omitempty"`
	Tasks   []TaskMessage `json:"tasks"`
	SentAt  time.Time     `json:"sentAt"`
}

type TaskMessage struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Completed        bool       `json:"completed"`
	Priority         string     `json:"priority"`
	Category         string     `json:"category"`
	SubjectID        string     `json:"subjectId,omitempty"`
	DueDate          *time.Time `json:"dueDate,omitempty"`
	ReminderMinutes  *int       `json:"reminderTime,omitempty"`
	NoteIDs          []string   `json:"noteIds,omitempty"`
	CalendarEventRef string     `json:"calendarEventId,omitempty"`
}

// Feed publishes snapshots in version order, skipping versions already sent.
type Feed struct {
	pub    Publisher
	logger *log.Logger
	now    func() time.Time
	last   uint64
}

func New(pub Publisher, logger *log.Logger) *Feed {
	if logger == nil {
		logger = log.New(os.Stderr, "[feed] ", log.LstdFlags)
	}
	return &Feed{pub: pub, logger: logger, now: time.Now}
}

// Run publishes every snapshot received until the channel closes or ctx is
// done. A failed publish is logged and the next snapshot is still sent.
func (f *Feed) Run(ctx context.Context, snapshots <-chan taskstore.Snapshot) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			if err := f.Publish(ctx, snap); err != nil {
				f.logger.Printf("Error publishing snapshot %d: %v", snap.Version, err)
			}
		}
	}
}

// Publish sends one snapshot. Snapshots not newer than the last one sent
// are ignored.
func (f *Feed) Publish(ctx context.Context, snap taskstore.Snapshot) error {
	if snap.Version != 0 && snap.Version <= f.last {
		return nil
	}
	data, err := json.Marshal(f.encode(snap))
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	attrs := map[string]string{
		"type":    "task_snapshot",
		"version": strconv.FormatUint(snap.Version, 10),
	}
	if err := f.pub.Publish(ctx, data, attrs); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	f.last = snap.Version
	f.logger.Printf("Published snapshot %d with %d tasks", snap.Version, len(snap.Tasks))
	return nil
}

func (f *Feed) encode(snap taskstore.Snapshot) Message {
	msg := Message{
		Version: snap.Version,
		Tasks:   make([]TaskMessage, 0, len(snap.Tasks)),
		SentAt:  f.now().UTC(),
	}
	if snap.Err != nil {
		msg.Error = snap.Err.Error()
	}
	for _, t := range snap.Tasks {
		msg.Tasks = append(msg.Tasks, taskMessage(t))
	}
	return msg
}

func taskMessage(t model.Task) TaskMessage {
	return TaskMessage{
		ID:               t.ID,
		Title:            t.Title,
		Completed:        t.Completed,
		Priority:         string(t.Priority),
		Category:         string(t.Category),
		SubjectID:        t.SubjectID,
		DueDate:          t.DueDate,
		ReminderMinutes:  t.ReminderOffsetMinutes,
		NoteIDs:          t.LinkedNoteIDs,
		CalendarEventRef: t.CalendarEventRef,
	}
}
