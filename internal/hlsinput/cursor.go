package hlsinput

import "log/slog"

// InitialKeepCount computes how many of a media playlist's segmentCount
// segments should survive segment-cursor initialization, given
// startSegment (0 = keep all, positive = offset from head, negative =
// offset from tail). warn is true when startSegment named more segments
// than the playlist actually has.
func InitialKeepCount(segmentCount, startSegment int) (keep int, warn bool) {
	switch {
	case startSegment == 0:
		return segmentCount, false
	case startSegment > 0:
		if remaining := segmentCount - startSegment; remaining >= 1 {
			return remaining, false
		}
		return 1, true
	default:
		k := -startSegment
		if segmentCount < k {
			return segmentCount, true
		}
		return k, false
	}
}

// ApplyInitialCursor drops segments from the head of p until its length
// matches the count startSegment names, per InitialKeepCount.
func ApplyInitialCursor(p *HlsPlaylist, startSegment int, log *slog.Logger) {
	n := p.SegmentCount()
	keep, warn := InitialKeepCount(n, startSegment)
	if warn {
		if startSegment > 0 {
			log.Warn("playlist has fewer segments than start-segment, starting at last one",
				slog.Int("segments", n))
		} else {
			log.Warn("playlist has fewer segments than start-segment, starting at first one",
				slog.Int("segments", n))
		}
	}
	for p.SegmentCount() > keep {
		p.PopFirstSegment()
		log.Debug("dropped initial segment", slog.Int("remaining", p.SegmentCount()))
	}
}

// SegmentCursor tracks how many segments of a session have been consumed
// and the point after which the run phase ends regardless of playlist
// content.
type SegmentCursor struct {
	Consumed        int
	MaxSegmentCount int // 0 = unlimited
}

// Completed reports whether the run phase should end before attempting to
// pop another segment: the playlist started (and remains) empty, the
// configured segment budget is exhausted, or the caller asked to abort.
func (c *SegmentCursor) Completed(currentSegmentCount int, aborted bool) bool {
	if c.Consumed == 0 && currentSegmentCount == 0 {
		return true
	}
	if c.MaxSegmentCount > 0 && c.Consumed >= c.MaxSegmentCount {
		return true
	}
	return aborted
}
