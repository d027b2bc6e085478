// Package ingest validates incoming submissions, assigns their identity and
// drives them through the append-then-fanout path.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"chaos-organizer/internal/blob"
	"chaos-organizer/internal/events"
	"chaos-organizer/internal/idgen"
	"chaos-organizer/internal/models"

	"github.com/goccy/go-json"
)

// UploadsPath prefixes the retrieval reference stored in file events.
const UploadsPath = "/uploads/"

// Appender is the durable log new events are added to.
type Appender interface {
	Append(ctx context.Context, ev models.Event) ([]models.Event, error)
}

// Broadcaster delivers an accepted event to every live connection.
type Broadcaster interface {
	Fanout(ev models.Event) int
}

type Service struct {
	log       Appender
	hub       Broadcaster
	blobs     blob.Store
	ids       *idgen.Sequence
	publisher events.Publisher
}

func NewService(log Appender, hub Broadcaster, blobs blob.Store, ids *idgen.Sequence, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Service{
		log:       log,
		hub:       hub,
		blobs:     blobs,
		ids:       ids,
		publisher: publisher,
	}
}

// SubmitMessage accepts a text or link submission from the HTTP surface.
func (s *Service) SubmitMessage(ctx context.Context, sub models.Submission) (models.Event, error) {
	if err := validate(sub, models.KindText, models.KindLink); err != nil {
		return models.Event{}, err
	}
	return s.accept(ctx, s.newEvent(sub))
}

// SubmitUpload stores the uploaded bytes and accepts a file event that
// references them.
func (s *Service) SubmitUpload(ctx context.Context, up models.Upload) (models.Event, error) {
	if len(up.Data) == 0 {
		return models.Event{}, &models.ValidationError{Field: "file", Reason: "empty upload"}
	}

	name, err := s.blobs.Save(ctx, up.Data, up.OriginalName, up.MimeType)
	if err != nil {
		return models.Event{}, &models.PersistenceError{Op: "store upload", Err: err}
	}

	size := up.Size
	if size <= 0 {
		size = int64(len(up.Data))
	}
	ev := s.newEvent(models.Submission{Type: models.KindFile, Content: UploadsPath + name})
	ev.FileMeta = models.FileMeta{
		Filename:     name,
		OriginalName: up.OriginalName,
		MimeType:     up.MimeType,
		Size:         size,
	}
	accepted, err := s.accept(ctx, ev)
	if err != nil {
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), name); derr != nil {
			slog.Error("[INGEST] Failed to remove orphaned upload", "name", name, "error", derr)
		}
		return models.Event{}, err
	}
	return accepted, nil
}

// HandleRealtime decodes a message received on a duplex connection and
// accepts it. Any client-supplied id or timestamp is ignored; the sender gets
// the event back through the fanout like every other connection. File events
// are only created by SubmitUpload, so the file kind is rejected here.
func (s *Service) HandleRealtime(ctx context.Context, raw []byte) (models.Event, error) {
	var sub models.Submission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return models.Event{}, &models.MalformedPayloadError{Err: err}
	}
	if err := validate(sub, models.KindText, models.KindLink); err != nil {
		return models.Event{}, err
	}
	return s.accept(ctx, s.newEvent(sub))
}

func (s *Service) newEvent(sub models.Submission) models.Event {
	id, now := s.ids.Next()
	return models.Event{
		ID:        id,
		Type:      sub.Type,
		Content:   sub.Content,
		IsSelf:    sub.IsSelf,
		CreatedAt: now.UTC(),
	}
}

// accept persists ev, then fans it out, then publishes it to the outbound
// feed. Nothing is fanned out or published if persistence fails.
func (s *Service) accept(ctx context.Context, ev models.Event) (models.Event, error) {
	if _, err := s.log.Append(ctx, ev); err != nil {
		slog.Error("[INGEST] Event rejected, log not persisted", "event", ev.ID, "type", ev.Type, "error", err)
		return models.Event{}, err
	}

	sent := s.hub.Fanout(ev)
	slog.Info("[INGEST] Event accepted", "event", ev.ID, "type", ev.Type, "delivered", sent)

	if err := s.publisher.Publish(ctx, ev); err != nil {
		slog.Warn("[INGEST] Failed to publish event", "event", ev.ID, "error", err)
	}
	return ev, nil
}

func validate(sub models.Submission, allowed ...models.Kind) error {
	if sub.Type == "" {
		return &models.ValidationError{Field: "type", Reason: "required"}
	}
	if !kindIn(sub.Type, allowed) {
		return &models.ValidationError{Field: "type", Reason: fmt.Sprintf("unsupported kind %q", sub.Type)}
	}
	if strings.TrimSpace(sub.Content) == "" {
		return &models.ValidationError{Field: "content", Reason: "required"}
	}
	return nil
}

func kindIn(k models.Kind, allowed []models.Kind) bool {
	for _, a := range allowed {
		if k == a {
			return true
		}
	}
	return false
}
