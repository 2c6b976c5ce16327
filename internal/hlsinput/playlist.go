// Package hlsinput turns a remote HLS playlist (master or media) into a
// stream of segment bytes suitable for feeding one InputExecutor session of
// the switch engine. The M3U8 lexing itself is delegated to gohlslib's
// playlist decoder; this package supplies the domain model the decoder does
// not: variant/segment selection, FIFO segment popping, live-refresh
// bookkeeping, and the segment-cursor initialization rules.
package hlsinput

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	gplaylist "github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/mediaswitch/tsswitch/internal/fetch"
	"github.com/mediaswitch/tsswitch/internal/urlutil"
)

// PlaylistType mirrors the HLS two-level document model.
type PlaylistType int

const (
	UnknownPlaylist PlaylistType = iota
	MasterPlaylist
	MediaPlaylist
)

func (t PlaylistType) String() string {
	switch t {
	case MasterPlaylist:
		return "master"
	case MediaPlaylist:
		return "media"
	default:
		return "unknown"
	}
}

// NoSelection is the sentinel a selector returns when no variant satisfies
// its condition.
const NoSelection = -1

// Variant is one entry of a master playlist.
type Variant struct {
	Bandwidth int
	Width     int
	Height    int
	Codecs    []string
	URL       string
}

// Segment is one entry of a media playlist.
type Segment struct {
	URL      string
	Duration time.Duration
}

// HlsPlaylist is the loaded state of one playlist document, master or
// media. A single instance is reused across reload() calls for live
// playlists; loadURL replaces its contents wholesale.
type HlsPlaylist struct {
	kind PlaylistType
	url  *url.URL // the URL the document was actually fetched from

	variants []Variant

	segments       []Segment
	targetDuration time.Duration
	updatable      bool
	terminationUTC time.Time
	loadedAt       time.Time
}

// NewHlsPlaylist returns an empty, UnknownPlaylist-typed playlist.
func NewHlsPlaylist() *HlsPlaylist {
	return &HlsPlaylist{}
}

// Type reports the kind of the currently loaded document.
func (p *HlsPlaylist) Type() PlaylistType { return p.kind }

// LoadURL fetches and parses the playlist at rawURL, replacing any
// previously loaded content. forceType, when non-Unknown, rejects a
// response that turns out to be the other kind of playlist (the TSDuck
// caller uses this to insist a retry still yields a media playlist).
func (p *HlsPlaylist) LoadURL(ctx context.Context, rawURL string, forceType PlaylistType, fetcher fetch.Fetcher, log *slog.Logger) bool {
	body, err := fetcher.Get(ctx, rawURL)
	if err != nil {
		log.Warn("fetching playlist", slog.String("url", rawURL), slog.Any("error", err))
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		log.Warn("parsing playlist URL", slog.String("url", rawURL), slog.Any("error", err))
		return false
	}
	return p.parse(body, u, forceType, log)
}

// Reload re-fetches the same URL the playlist was last loaded from and
// replaces its content in place. Used for live media playlists only.
func (p *HlsPlaylist) Reload(ctx context.Context, fetcher fetch.Fetcher, log *slog.Logger) bool {
	if p.url == nil {
		log.Warn("reload called on a playlist that was never loaded")
		return false
	}
	body, err := fetcher.Get(ctx, p.url.String())
	if err != nil {
		log.Warn("reloading playlist", slog.String("url", p.url.String()), slog.Any("error", err))
		return false
	}
	return p.parse(body, p.url, UnknownPlaylist, log)
}

func (p *HlsPlaylist) parse(body []byte, loadedFrom *url.URL, forceType PlaylistType, log *slog.Logger) bool {
	parsed, err := gplaylist.Unmarshal(body)
	if err != nil {
		log.Warn("decoding playlist", slog.Any("error", err))
		return false
	}

	switch pl := parsed.(type) {
	case *gplaylist.Multivariant:
		if forceType == MediaPlaylist {
			log.Warn("expected a media playlist, got a master playlist")
			return false
		}
		variants := make([]Variant, 0, len(pl.Variants))
		for _, v := range pl.Variants {
			resolved, err := urlutil.ResolveRef(loadedFrom, v.URI)
			if err != nil {
				log.Warn("resolving variant URL", slog.String("uri", v.URI), slog.Any("error", err))
				continue
			}
			w, h := parseResolution(v.Resolution)
			variants = append(variants, Variant{
				Bandwidth: v.Bandwidth,
				Width:     w,
				Height:    h,
				Codecs:    v.Codecs,
				URL:       resolved,
			})
		}
		p.kind = MasterPlaylist
		p.url = loadedFrom
		p.variants = variants
		p.segments = nil
		return true

	case *gplaylist.Media:
		if forceType == MasterPlaylist {
			log.Warn("expected a master playlist, got a media playlist")
			return false
		}
		segments := make([]Segment, 0, len(pl.Segments))
		for _, s := range pl.Segments {
			resolved, err := urlutil.ResolveRef(loadedFrom, s.URI)
			if err != nil {
				log.Warn("resolving segment URL", slog.String("uri", s.URI), slog.Any("error", err))
				continue
			}
			segments = append(segments, Segment{URL: resolved, Duration: s.Duration})
		}
		p.kind = MediaPlaylist
		p.url = loadedFrom
		p.segments = segments
		p.targetDuration = time.Duration(pl.TargetDuration) * time.Second
		p.updatable = !pl.Endlist
		p.loadedAt = timeNow()
		// The origin may keep producing segments as late as target duration
		// times the segment count already listed; used to bound how long a
		// live-playlist reload retry loop keeps waiting.
		p.terminationUTC = p.loadedAt.Add(p.targetDuration * time.Duration(len(segments)))
		p.variants = nil
		return true

	default:
		log.Warn("unrecognized playlist document")
		return false
	}
}

// timeNow exists so tests can substitute a fixed clock if ever needed;
// production always uses wall-clock time.
var timeNow = time.Now

func parseResolution(res string) (width, height int) {
	var w, h int
	if _, err := fmt.Sscanf(res, "%dx%d", &w, &h); err != nil {
		return 0, 0
	}
	return w, h
}

// -- master-playlist accessors --------------------------------------------

func (p *HlsPlaylist) PlayListCount() int { return len(p.variants) }

func (p *HlsPlaylist) PlayList(i int) Variant { return p.variants[i] }

// DeletePlayList removes variant i, used after a failed fetch attempt so
// the caller can retry selection among the survivors.
func (p *HlsPlaylist) DeletePlayList(i int) {
	p.variants = append(p.variants[:i], p.variants[i+1:]...)
}

// SelectPlayListLowestBitRate returns the index of the lowest-bandwidth
// variant, or NoSelection if there are none.
func (p *HlsPlaylist) SelectPlayListLowestBitRate() int {
	return p.selectBy(func(a, b Variant) bool { return a.Bandwidth < b.Bandwidth })
}

// SelectPlayListHighestBitRate returns the index of the highest-bandwidth
// variant, or NoSelection if there are none.
func (p *HlsPlaylist) SelectPlayListHighestBitRate() int {
	return p.selectBy(func(a, b Variant) bool { return a.Bandwidth > b.Bandwidth })
}

// SelectPlayListLowestResolution returns the index of the variant with the
// smallest pixel area, or NoSelection if there are none.
func (p *HlsPlaylist) SelectPlayListLowestResolution() int {
	return p.selectBy(func(a, b Variant) bool { return a.Width*a.Height < b.Width*b.Height })
}

// SelectPlayListHighestResolution returns the index of the variant with the
// largest pixel area, or NoSelection if there are none.
func (p *HlsPlaylist) SelectPlayListHighestResolution() int {
	return p.selectBy(func(a, b Variant) bool { return a.Width*a.Height > b.Width*b.Height })
}

func (p *HlsPlaylist) selectBy(better func(a, b Variant) bool) int {
	if len(p.variants) == 0 {
		return NoSelection
	}
	best := 0
	for i := 1; i < len(p.variants); i++ {
		if better(p.variants[i], p.variants[best]) {
			best = i
		}
	}
	return best
}

// SelectPlayList returns the index of the first variant (in playlist
// order) whose bitrate and resolution all fall within the given bounds. A
// zero bound on either side means "no limit" on that side.
func (p *HlsPlaylist) SelectPlayList(minBR, maxBR, minW, maxW, minH, maxH int) int {
	for i, v := range p.variants {
		if minBR > 0 && v.Bandwidth < minBR {
			continue
		}
		if maxBR > 0 && v.Bandwidth > maxBR {
			continue
		}
		if minW > 0 && v.Width < minW {
			continue
		}
		if maxW > 0 && v.Width > maxW {
			continue
		}
		if minH > 0 && v.Height < minH {
			continue
		}
		if maxH > 0 && v.Height > maxH {
			continue
		}
		return i
	}
	return NoSelection
}

// -- media-playlist accessors ----------------------------------------------

func (p *HlsPlaylist) SegmentCount() int { return len(p.segments) }

// PopFirstSegment removes and returns the playlist's head segment.
func (p *HlsPlaylist) PopFirstSegment() (Segment, bool) {
	if len(p.segments) == 0 {
		return Segment{}, false
	}
	seg := p.segments[0]
	p.segments = p.segments[1:]
	return seg, true
}

// TargetDuration is the playlist's EXT-X-TARGETDURATION, the nominal
// segment length used to pace reload retries.
func (p *HlsPlaylist) TargetDuration() time.Duration { return p.targetDuration }

// Updatable reports whether the playlist is live (no EXT-X-ENDLIST) and
// therefore eligible for periodic reload.
func (p *HlsPlaylist) Updatable() bool { return p.updatable }

// TerminationUTC is the estimated wall-clock deadline by which the origin
// should have produced new segments, derived from the playlist's own
// content at load time.
func (p *HlsPlaylist) TerminationUTC() time.Time { return p.terminationUTC }
