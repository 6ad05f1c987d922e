package domain

import "strconv"

// ParticipantID is the numeric id the media room assigns to a participant.
type ParticipantID uint32

func (p ParticipantID) String() string {
	return strconv.FormatUint(uint64(p), 10)
}

// ParseParticipantID reads the id a remote track carries as its stream id.
func ParseParticipantID(s string) (ParticipantID, bool) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return ParticipantID(v), true
}

// MediaKind is the type of a published track.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)
