package parser

import (
	"bytes"

	"github.com/grafov/m3u8"
)

// Playlist kinds reported by Classify
const (
	KindMaster  = "master"
	KindMedia   = "media"
	KindUnknown = "playlist"
)

// Classify decodes an HLS playlist in non-strict mode and reports whether it is
// a master or media playlist. Bodies grafov cannot decode are reported as
// KindUnknown, they are still proxied line by line.
func Classify(body []byte) string {
	pl, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil || pl == nil {
		return KindUnknown
	}
	switch listType {
	case m3u8.MASTER:
		return KindMaster
	case m3u8.MEDIA:
		return KindMedia
	default:
		return KindUnknown
	}
}
