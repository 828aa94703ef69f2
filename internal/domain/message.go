package domain

import "time"

// PackRequest is an inbound sticker message naming a set to fetch.
type PackRequest struct {
	Channel   string
	ChatID    string
	SenderID  string
	MessageID int // inbound message to reply to
	Sticker   StickerRef
	Timestamp time.Time
}

type OutboundMessage struct {
	Channel  string
	ChatID   string
	ReplyTo  int // message ID to reply to (0 = none)
	Content  string
	Document *Document // optional attachment; delivered instead of plain text
}

// Document is a file attachment carried by an outbound message.
type Document struct {
	Name    string
	Data    []byte
	Caption string
}
