package domain

// StickerRef identifies a single sticker and the set it belongs to.
type StickerRef struct {
	FileID     string
	SetName    string
	Emoji      string
	IsAnimated bool
	IsVideo    bool // naming fallback only; the bot API client does not report it
}

// StickerSet is the resolved metadata for a sticker set: its symbolic
// name, display title, and ordered member stickers.
type StickerSet struct {
	Name     string
	Title    string
	Stickers []StickerRef
}

// Asset is one downloaded sticker held in memory until it is archived.
type Asset struct {
	Name  string // archive entry name, e.g. "0.webp"
	Emoji string
	Data  []byte
}
