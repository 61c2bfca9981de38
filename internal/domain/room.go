package domain

type (
	// RoomID identifies a share session; at most one call per room.
	RoomID string
)

// MediaKind is the capability set a call was started with. Voice-only
// and voice+video calls share one session machine and differ only in
// which local tracks participants attach.
type MediaKind string

const (
	MediaAudio      MediaKind = "audio"
	MediaAudioVideo MediaKind = "audio+video"
)

func (k MediaKind) Valid() bool {
	return k == MediaAudio || k == MediaAudioVideo
}
