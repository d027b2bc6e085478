package models

import "time"

// Kind is the payload category of an Event.
type Kind string

const (
	KindText Kind = "text"
	KindLink Kind = "link"
	KindFile Kind = "file"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindLink, KindFile:
		return true
	}
	return false
}

// Event is one accepted message, link or file record in the log.
// For file events Content is the retrieval path of the stored blob and the
// FileMeta fields are populated.
type Event struct {
	ID        int64     `json:"id"`
	Type      Kind      `json:"type"`
	Content   string    `json:"content"`
	IsSelf    bool      `json:"isSelf,omitempty"`
	CreatedAt time.Time `json:"createdAt"`

	FileMeta
}

// FileMeta describes the blob behind a file event.
type FileMeta struct {
	Filename     string `json:"filename,omitempty"`
	OriginalName string `json:"originalName,omitempty"`
	MimeType     string `json:"mimeType,omitempty"`
	Size         int64  `json:"size,omitempty"`
}

// Submission is the client-supplied shape of a text or link event, used by
// both POST /messages and the realtime channel. Any client id or file
// metadata is ignored.
type Submission struct {
	Type    Kind   `json:"type"`
	Content string `json:"content"`
	IsSelf  bool   `json:"isSelf,omitempty"`
}

// Upload is a file payload received on the upload surface.
type Upload struct {
	OriginalName string
	MimeType     string
	Size         int64
	Data         []byte
}

// BroadcastMessage is a serialized event queued for delivery to one connection.
type BroadcastMessage struct {
	EventID int64
	Payload []byte
}
