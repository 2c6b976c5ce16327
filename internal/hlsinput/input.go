package hlsinput

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mediaswitch/tsswitch/internal/fetch"
	"github.com/mediaswitch/tsswitch/internal/switchengine"
)

// PacketSize matches switchengine.PacketSize; segments are read out in
// whole-packet chunks so a partial read never crosses a Packet boundary
// invisibly.
const PacketSize = switchengine.PacketSize

// Metrics is the ambient observability seam HlsInput reports segment and
// live-reload activity through. A nil Metrics is a valid no-op, matching
// switchengine.Metrics's contract.
type Metrics interface {
	IncHLSSegment()
	IncHLSReload(ok bool)
}

type noopMetrics struct{}

func (noopMetrics) IncHLSSegment()     {}
func (noopMetrics) IncHLSReload(bool) {}

// Config selects a variant (for a master playlist) and paces a run through
// a media playlist's segments.
type Config struct {
	URL string

	// At most one of these four should be set; if none are, the ranged
	// bounds below apply instead. ListVariants only affects logging.
	ListVariants                                                      bool
	LowestBitRate, HighestBitRate, LowestResolution, HighestResolution bool
	MinBitRate, MaxBitRate, MinWidth, MaxWidth, MinHeight, MaxHeight   int

	// StartSegment and MaxSegmentCount implement the segment-cursor law:
	// see InitialKeepCount and SegmentCursor.
	StartSegment    int
	MaxSegmentCount int
}

// HlsInput drives one switch-engine input session: it opens a playlist,
// resolves it down to a media playlist, and streams its segments as fixed
// size packets until the playlist is exhausted, its segment budget is
// spent, or the session is aborted.
type HlsInput struct {
	cfg     Config
	fetcher fetch.Fetcher
	log     *slog.Logger
	metrics Metrics
	saver   *SaveFiles

	ctx    context.Context
	cancel context.CancelFunc

	playlist *HlsPlaylist
	cursor   SegmentCursor
	current  io.ReadCloser

	aborted atomic.Bool
}

// NewHlsInput builds an HlsInput. fetcher supplies playlist and segment
// bytes; log receives the same structured diagnostics an InputExecutor's
// other collaborators use.
func NewHlsInput(cfg Config, fetcher fetch.Fetcher, log *slog.Logger) *HlsInput {
	if log == nil {
		log = slog.Default()
	}
	return &HlsInput{cfg: cfg, fetcher: fetcher, log: log, metrics: noopMetrics{}}
}

// SetMetrics wires a Metrics sink for segment/reload accounting. A nil
// metrics restores the no-op default.
func (h *HlsInput) SetMetrics(metrics Metrics) {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	h.metrics = metrics
}

// SetSaveFiles enables mirroring every consumed segment to disk through
// saver. A nil saver disables mirroring, the default.
func (h *HlsInput) SetSaveFiles(saver *SaveFiles) {
	h.saver = saver
}

// Start implements switchengine.InputPlugin. It performs the open phase:
// load the URL, resolve a master playlist down to a media playlist via the
// configured selection policy (retrying on a variant fetch failure), then
// apply the segment-cursor initialization law.
func (h *HlsInput) Start() bool {
	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.aborted.Store(false)
	h.current = nil

	top := NewHlsPlaylist()
	if !top.LoadURL(h.ctx, h.cfg.URL, UnknownPlaylist, h.fetcher, h.log) {
		return false
	}

	active := top
	if top.Type() == MasterPlaylist {
		master := top
		if h.cfg.ListVariants {
			for i := 0; i < master.PlayListCount(); i++ {
				v := master.PlayList(i)
				h.log.Info("hls variant",
					slog.Int("bandwidth", v.Bandwidth),
					slog.Int("width", v.Width),
					slog.Int("height", v.Height),
					slog.Any("codecs", v.Codecs))
			}
		}

		for {
			idx := h.selectVariant(master)
			if idx == NoSelection {
				h.log.Error("no matching stream")
				return false
			}
			variant := master.PlayList(idx)
			media := NewHlsPlaylist()
			if media.LoadURL(h.ctx, variant.URL, UnknownPlaylist, h.fetcher, h.log) {
				active = media
				break
			}
			if master.PlayListCount() == 1 {
				h.log.Error("no more media playlist to try, giving up")
				return false
			}
			master.DeletePlayList(idx)
		}
	}

	if active.Type() != MediaPlaylist {
		h.log.Error("invalid HLS playlist type, expected a media playlist")
		return false
	}
	if active.SegmentCount() == 0 {
		h.log.Error("empty HLS media playlist")
		return false
	}

	ApplyInitialCursor(active, h.cfg.StartSegment, h.log)

	h.playlist = active
	h.cursor = SegmentCursor{MaxSegmentCount: h.cfg.MaxSegmentCount}
	return true
}

func (h *HlsInput) selectVariant(p *HlsPlaylist) int {
	switch {
	case h.cfg.LowestBitRate:
		return p.SelectPlayListLowestBitRate()
	case h.cfg.HighestBitRate:
		return p.SelectPlayListHighestBitRate()
	case h.cfg.LowestResolution:
		return p.SelectPlayListLowestResolution()
	case h.cfg.HighestResolution:
		return p.SelectPlayListHighestResolution()
	default:
		return p.SelectPlayList(h.cfg.MinBitRate, h.cfg.MaxBitRate, h.cfg.MinWidth, h.cfg.MaxWidth, h.cfg.MinHeight, h.cfg.MaxHeight)
	}
}

// Receive implements switchengine.InputPlugin. It fills as many packets as
// the buffer holds, transparently moving on to later segments (per the
// run-phase pacing rules) as earlier ones are exhausted, and returns 0 only
// once the whole session is complete.
func (h *HlsInput) Receive(packets []switchengine.Packet, metas []switchengine.PacketMeta) int {
	n := 0
	for n < len(packets) {
		if h.aborted.Load() {
			break
		}
		if h.current == nil {
			rc, ok := h.openNextSegment()
			if !ok {
				break
			}
			h.current = rc
		}

		read, err := io.ReadFull(h.current, packets[n][:])
		if read == PacketSize {
			n++
			if err == nil {
				continue
			}
		}

		h.current.Close()
		h.current = nil
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			h.log.Warn("reading HLS segment", slog.Any("error", err))
		}
		// Loop back around: openNextSegment is tried again at the top,
		// either picking up the next segment or ending the session.
	}
	return n
}

// openNextSegment implements the run-phase completion/reload/backoff rules.
func (h *HlsInput) openNextSegment() (io.ReadCloser, bool) {
	p := h.playlist

	if h.cursor.Completed(p.SegmentCount(), h.aborted.Load()) {
		h.log.Info("HLS playlist completed")
		return nil, false
	}

	if p.SegmentCount() < 2 && p.Updatable() {
		h.metrics.IncHLSReload(p.Reload(h.ctx, h.fetcher, h.log))

		for p.SegmentCount() == 0 && !timeNow().After(p.TerminationUTC()) && !h.aborted.Load() {
			wait := 2 * time.Second
			if half := p.TargetDuration() / 2; half > wait {
				wait = half
			}
			select {
			case <-time.After(wait):
			case <-h.ctx.Done():
			}
			ok := p.Reload(h.ctx, h.fetcher, h.log)
			h.metrics.IncHLSReload(ok)
			if !ok {
				break
			}
		}
	}

	if p.SegmentCount() == 0 {
		h.log.Info("HLS playlist completed")
		return nil, false
	}

	seg, _ := p.PopFirstSegment()
	h.cursor.Consumed++
	h.log.Debug("downloading HLS segment", slog.String("url", seg.URL))

	rc, err := h.fetcher.Open(h.ctx, seg.URL)
	if err != nil {
		h.log.Warn("opening HLS segment", slog.String("url", seg.URL), slog.Any("error", err))
		return nil, false
	}
	h.metrics.IncHLSSegment()
	if h.saver != nil {
		rc = h.saver.Wrap(rc, seg.URL)
	}
	return rc, true
}

// Stop implements switchengine.InputPlugin.
func (h *HlsInput) Stop() {
	if h.current != nil {
		h.current.Close()
		h.current = nil
	}
	if h.cancel != nil {
		h.cancel()
	}
}

// AbortInput implements switchengine.InputPlugin. Canceling the session's
// context unblocks a Read that is currently blocked inside the HTTP
// response body of the segment or playlist fetch in progress.
func (h *HlsInput) AbortInput() bool {
	h.aborted.Store(true)
	if h.cancel != nil {
		h.cancel()
	}
	return true
}
