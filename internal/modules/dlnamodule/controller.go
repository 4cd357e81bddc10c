package dlnamodule

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// ProgressReporter receives playback state changes from a controller. The
// playback session registry implements it. Reporting is best effort: the
// controller never lets a reporting failure disturb device control.
type ProgressReporter interface {
	OnPlaybackStart(sessionID, itemID, mediaSourceID string, isDirect bool, runTimeTicks int64) error
	OnPlaybackProgress(sessionID string, positionTicks int64, paused bool) error
	OnPlaybackStopped(sessionID string, positionTicks int64) error
}

// DeviceInfo identifies the renderer a controller drives.
type DeviceInfo struct {
	ID           string `json:"id"`
	USN          string `json:"usn"`
	FriendlyName string `json:"friendly_name"`
	Manufacturer string `json:"manufacturer,omitempty"`
	ModelName    string `json:"model_name,omitempty"`
}

// ControllerConfig tunes one controller's loop.
type ControllerConfig struct {
	PollInterval    time.Duration
	NearEndFraction float64
	CommandQueue    int
}

// ControllerStatus is a point-in-time snapshot of a controller.
type ControllerStatus struct {
	Device        DeviceInfo     `json:"device"`
	SessionID     string         `json:"session_id"`
	State         TransportState `json:"state"`
	PositionTicks int64          `json:"position_ticks"`
	Playlist      []PlaylistEntry `json:"playlist"`
	CurrentIndex  int             `json:"current_index"`
	Volume        int             `json:"volume"`
	Muted         bool            `json:"muted"`
	LastActivity  time.Time       `json:"last_activity"`
}

type command struct {
	run   func(ctx context.Context) error
	reply chan error
}

// EntryRebuilder rebuilds a playlist entry's stream decision for a new start
// position or stream selection. Nil index pointers keep the entry's current
// selection; a negative index clears it.
type EntryRebuilder func(entry PlaylistEntry, startTicks int64, audioIndex, subtitleIndex *int) (PlaylistEntry, error)

// Controller drives one renderer. All device interaction and playlist state
// lives on a single goroutine; public methods enqueue commands onto a
// bounded queue and wait for the loop to execute them in order.
type Controller struct {
	logger    hclog.Logger
	device    DeviceInfo
	transport DeviceTransport
	reporter  ProgressReporter
	sessionID string
	cfg       ControllerConfig

	cmdCh    chan command
	closed   chan struct{}
	loopDone chan struct{}
	cancel   context.CancelFunc
	once     sync.Once

	// Loop-owned state. Guarded by mu only for snapshot reads; the loop
	// goroutine is the sole writer.
	mu            sync.RWMutex
	playlist      []PlaylistEntry
	cursor        int
	state         TransportState
	positionTicks int64
	volume        int
	muted         bool
	lastActivity  time.Time
	rebuild       EntryRebuilder
}

// NewController creates and starts a controller for one renderer.
func NewController(logger hclog.Logger, device DeviceInfo, transport DeviceTransport, reporter ProgressReporter, sessionID string, cfg ControllerConfig) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.NearEndFraction <= 0 {
		cfg.NearEndFraction = 0.10
	}
	if cfg.CommandQueue <= 0 {
		cfg.CommandQueue = 16
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		logger:       logger.With("device", device.FriendlyName),
		device:       device,
		transport:    transport,
		reporter:     reporter,
		sessionID:    sessionID,
		cfg:          cfg,
		cmdCh:        make(chan command, cfg.CommandQueue),
		closed:       make(chan struct{}),
		loopDone:     make(chan struct{}),
		cancel:       cancel,
		state:        TransportStateNoMedia,
		cursor:       -1,
		lastActivity: time.Now(),
	}

	go c.run(ctx)
	return c
}

// Device returns the renderer this controller drives.
func (c *Controller) Device() DeviceInfo {
	return c.device
}

// SessionID returns the playback session this controller reports into.
func (c *Controller) SessionID() string {
	return c.sessionID
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() ControllerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	playlist := make([]PlaylistEntry, len(c.playlist))
	copy(playlist, c.playlist)
	return ControllerStatus{
		Device:        c.device,
		SessionID:     c.sessionID,
		State:         c.state,
		PositionTicks: c.positionTicks,
		Playlist:      playlist,
		CurrentIndex:  c.cursor,
		Volume:        c.volume,
		Muted:         c.muted,
		LastActivity:  c.lastActivity,
	}
}

// LastActivity reports when the controller last saw the renderer respond or
// received a command.
func (c *Controller) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// SetRebuilder installs the function used to rebuild stream decisions for
// mid-playback seeks and stream switches.
func (c *Controller) SetRebuilder(fn EntryRebuilder) {
	c.mu.Lock()
	c.rebuild = fn
	c.mu.Unlock()
}

func (c *Controller) rebuilder() EntryRebuilder {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rebuild
}

// PlayItems replaces the playlist and starts playback at startIndex.
func (c *Controller) PlayItems(entries []PlaylistEntry, startIndex int) error {
	return c.submit(func(ctx context.Context) error {
		if len(entries) == 0 {
			return ErrEmptyPlaylist
		}
		if startIndex < 0 || startIndex >= len(entries) {
			return ErrIndexOutOfRange
		}
		for i := range entries {
			entries[i].Index = i
		}
		c.setPlaylist(entries)
		return c.playEntry(ctx, startIndex)
	})
}

// NextTrack advances the playlist. Past the last entry the playlist clears
// and the renderer stops.
func (c *Controller) NextTrack() error {
	return c.submit(c.nextTrack)
}

// PreviousTrack moves back one entry, clamped at the first.
func (c *Controller) PreviousTrack() error {
	return c.submit(func(ctx context.Context) error {
		c.mu.RLock()
		cursor := c.cursor
		size := len(c.playlist)
		c.mu.RUnlock()
		if size == 0 || cursor < 0 {
			return ErrEmptyPlaylist
		}
		if cursor > 0 {
			cursor--
		}
		return c.playEntry(ctx, cursor)
	})
}

// Pause pauses the renderer.
func (c *Controller) Pause() error {
	return c.submit(func(ctx context.Context) error {
		if err := c.transport.Pause(ctx); err != nil {
			return err
		}
		c.setState(TransportStatePaused)
		c.report(func() error {
			return c.reporter.OnPlaybackProgress(c.sessionID, c.currentPosition(), true)
		})
		return nil
	})
}

// Unpause resumes the renderer.
func (c *Controller) Unpause() error {
	return c.submit(func(ctx context.Context) error {
		if err := c.transport.Play(ctx); err != nil {
			return err
		}
		c.setState(TransportStatePlaying)
		c.report(func() error {
			return c.reporter.OnPlaybackProgress(c.sessionID, c.currentPosition(), false)
		})
		return nil
	})
}

// Stop halts playback and clears the playlist.
func (c *Controller) Stop() error {
	return c.submit(func(ctx context.Context) error {
		return c.stopPlayback(ctx, c.currentPosition())
	})
}

// Seek jumps to a position in the current track. A direct stream seeks on
// the renderer; a transcoded stream has no bytes past what the server
// encoded from its start position, so the decision is rebuilt at the target
// and the renderer handed a fresh URI.
func (c *Controller) Seek(positionTicks int64) error {
	return c.submit(func(ctx context.Context) error {
		entry := c.currentEntry()
		if entry == nil {
			return ErrEmptyPlaylist
		}

		rebuild := c.rebuilder()
		if entry.Decision.IsDirectStream || rebuild == nil {
			if err := c.transport.Seek(ctx, positionTicks); err != nil {
				return err
			}
		} else {
			rebuilt, err := rebuild(*entry, positionTicks, nil, nil)
			if err != nil {
				return err
			}
			if err := c.swapEntry(ctx, rebuilt); err != nil {
				return err
			}
		}

		c.setPosition(positionTicks)
		c.report(func() error {
			paused := c.snapshotState() == TransportStatePaused
			return c.reporter.OnPlaybackProgress(c.sessionID, positionTicks, paused)
		})
		return nil
	})
}

// SetAudioStream switches the audio stream of the current entry, rebuilding
// its decision at the current position. A negative index reverts to the
// source's default stream.
func (c *Controller) SetAudioStream(index int) error {
	return c.submit(func(ctx context.Context) error {
		return c.switchStream(ctx, &index, nil)
	})
}

// SetSubtitleStream switches the subtitle stream of the current entry. A
// negative index turns subtitles off.
func (c *Controller) SetSubtitleStream(index int) error {
	return c.submit(func(ctx context.Context) error {
		return c.switchStream(ctx, nil, &index)
	})
}

// switchStream rebuilds the current entry with a new stream selection at the
// current position and re-issues it to the renderer.
func (c *Controller) switchStream(ctx context.Context, audioIndex, subtitleIndex *int) error {
	entry := c.currentEntry()
	if entry == nil {
		return ErrEmptyPlaylist
	}
	rebuild := c.rebuilder()
	if rebuild == nil {
		return ErrStreamSwitchUnavailable
	}

	pos := c.currentPosition()
	rebuilt, err := rebuild(*entry, pos, audioIndex, subtitleIndex)
	if err != nil {
		return err
	}
	if err := c.swapEntry(ctx, rebuilt); err != nil {
		return err
	}

	// A direct URL serves the whole file regardless of start position; the
	// renderer resumes by seeking. Transcoded output already starts at pos.
	if rebuilt.Decision.IsDirectStream && pos > 0 {
		if err := c.transport.Seek(ctx, pos); err != nil {
			return err
		}
	}

	c.setPosition(pos)
	c.report(func() error {
		return c.reporter.OnPlaybackProgress(c.sessionID, pos, false)
	})
	return nil
}

// swapEntry replaces the current playlist slot with a rebuilt entry and
// hands the renderer its URI.
func (c *Controller) swapEntry(ctx context.Context, rebuilt PlaylistEntry) error {
	c.mu.RLock()
	cursor := c.cursor
	c.mu.RUnlock()
	if cursor < 0 {
		return ErrEmptyPlaylist
	}
	rebuilt.Index = cursor

	if err := c.transport.SetAVTransportURI(ctx, rebuilt.StreamURL, rebuilt.Metadata); err != nil {
		return err
	}
	if err := c.transport.Play(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	if cursor < len(c.playlist) {
		c.playlist[cursor] = rebuilt
	}
	c.state = TransportStatePlaying
	c.lastActivity = time.Now()
	c.mu.Unlock()
	return nil
}

// SetVolume sets the renderer volume.
func (c *Controller) SetVolume(volume int) error {
	return c.submit(func(ctx context.Context) error {
		if err := c.transport.SetVolume(ctx, volume); err != nil {
			return err
		}
		c.mu.Lock()
		c.volume = volume
		c.mu.Unlock()
		return nil
	})
}

// SetMute mutes or unmutes the renderer.
func (c *Controller) SetMute(mute bool) error {
	return c.submit(func(ctx context.Context) error {
		if err := c.transport.SetMute(ctx, mute); err != nil {
			return err
		}
		c.mu.Lock()
		c.muted = mute
		c.mu.Unlock()
		return nil
	})
}

// Close shuts the controller down, stopping the renderer best effort and
// reporting the final position.
func (c *Controller) Close() {
	c.once.Do(func() {
		close(c.closed)
		c.cancel()
		<-c.loopDone
	})
}

// submit enqueues a command and waits for the loop to run it. A full queue
// rejects rather than blocks so a wedged renderer cannot back callers up.
func (c *Controller) submit(fn func(ctx context.Context) error) error {
	cmd := command{run: fn, reply: make(chan error, 1)}
	select {
	case <-c.closed:
		return ErrSessionEnded
	case c.cmdCh <- cmd:
	default:
		return ErrCommandQueueFull
	}
	select {
	case <-c.closed:
		return ErrSessionEnded
	case err := <-cmd.reply:
		return err
	}
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.loopDone)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			c.shutdown()
			return
		case <-ctx.Done():
			c.shutdown()
			return
		case cmd := <-c.cmdCh:
			c.touch()
			cmd.reply <- cmd.run(ctx)
		case <-ticker.C:
			c.poll(ctx)
		}
	}
}

// shutdown runs off the loop context, which is already cancelled.
func (c *Controller) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.currentEntry() != nil {
		if err := c.transport.Stop(ctx); err != nil {
			c.logger.Debug("stop during shutdown failed", "error", err)
		}
		c.report(func() error {
			return c.reporter.OnPlaybackStopped(c.sessionID, c.currentPosition())
		})
	}
}

func (c *Controller) playEntry(ctx context.Context, index int) error {
	c.mu.RLock()
	entry := c.playlist[index]
	c.mu.RUnlock()

	if err := c.transport.SetAVTransportURI(ctx, entry.StreamURL, entry.Metadata); err != nil {
		return err
	}
	if err := c.transport.Play(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.cursor = index
	c.state = TransportStatePlaying
	c.positionTicks = entry.Decision.StartPositionTicks
	c.lastActivity = time.Now()
	c.mu.Unlock()

	c.logger.Info("Started remote playback",
		"item", entry.ItemID,
		"index", index,
		"direct", entry.Decision.IsDirectStream)

	c.report(func() error {
		return c.reporter.OnPlaybackStart(c.sessionID, entry.ItemID,
			entry.Decision.MediaSourceID, entry.Decision.IsDirectStream,
			entry.Decision.RunTimeTicks)
	})
	return nil
}

func (c *Controller) nextTrack(ctx context.Context) error {
	c.mu.RLock()
	cursor := c.cursor
	size := len(c.playlist)
	c.mu.RUnlock()

	if size == 0 || cursor < 0 {
		return ErrEmptyPlaylist
	}
	if cursor+1 >= size {
		return c.stopPlayback(ctx, c.currentPosition())
	}
	return c.playEntry(ctx, cursor+1)
}

// stopPlayback halts the renderer, reports the final position, and clears
// the playlist.
func (c *Controller) stopPlayback(ctx context.Context, positionTicks int64) error {
	hadEntry := c.currentEntry() != nil

	if err := c.transport.Stop(ctx); err != nil {
		c.logger.Debug("stop command failed", "error", err)
	}

	c.mu.Lock()
	c.playlist = nil
	c.cursor = -1
	c.state = TransportStateStopped
	c.positionTicks = 0
	c.lastActivity = time.Now()
	c.mu.Unlock()

	if hadEntry {
		c.report(func() error {
			return c.reporter.OnPlaybackStopped(c.sessionID, positionTicks)
		})
	}
	return nil
}

// poll reconciles controller state with the renderer. A track that stopped
// on its own is judged by the completion heuristic and either advances the
// playlist or ends the session's playback.
func (c *Controller) poll(ctx context.Context) {
	entry := c.currentEntry()
	if entry == nil {
		return
	}

	info, err := c.transport.TransportInfo(ctx)
	if err != nil {
		c.logger.Debug("transport poll failed", "error", err)
		return
	}
	c.touch()

	pos, err := c.transport.PositionInfo(ctx)
	if err != nil {
		c.logger.Debug("position poll failed", "error", err)
		pos = nil
	}

	// Renderers keep answering with the previous track's URI for a moment
	// after a transition. Position data for a different URI is stale and
	// must not be attributed to the current entry.
	stale := pos != nil && pos.TrackURI != "" && !sameTrackURI(pos.TrackURI, entry.StreamURL)

	if pos != nil && !stale {
		c.setPosition(pos.RelTimeTicks)
	}

	switch info.State {
	case TransportStatePlaying:
		c.setState(TransportStatePlaying)
		if !stale {
			c.report(func() error {
				return c.reporter.OnPlaybackProgress(c.sessionID, c.currentPosition(), false)
			})
		}
	case TransportStatePaused:
		c.setState(TransportStatePaused)
	case TransportStateStopped, TransportStateNoMedia:
		c.handleTrackStopped(ctx, entry)
	}
}

// handleTrackStopped decides whether an externally observed stop means the
// track finished. Completed tracks advance the playlist; an abandoned track
// ends playback at its last position.
func (c *Controller) handleTrackStopped(ctx context.Context, entry *PlaylistEntry) {
	prev := c.snapshotState()
	if prev != TransportStatePlaying && prev != TransportStateTransitioning {
		return
	}

	stopPos := c.currentPosition()
	if trackCompleted(stopPos, entry.Decision.RunTimeTicks, c.cfg.NearEndFraction) {
		c.logger.Debug("track completed, advancing playlist",
			"item", entry.ItemID,
			"position", stopPos)
		if err := c.nextTrack(ctx); err != nil && err != ErrEmptyPlaylist {
			c.logger.Warn("failed to advance playlist", "error", err)
		}
		return
	}

	c.logger.Info("Remote playback stopped externally",
		"item", entry.ItemID,
		"position", stopPos)
	if err := c.stopPlayback(ctx, stopPos); err != nil {
		c.logger.Warn("failed to finalize stopped playback", "error", err)
	}
}

// trackCompleted is the completion heuristic. Renderers often reset the
// position to zero before reporting the stop, so an unknown or zero stop
// position counts as completion; otherwise the track completed when it
// stopped inside the near-end window of its duration.
func trackCompleted(stopTicks, durationTicks int64, nearEndFraction float64) bool {
	if stopTicks <= 0 {
		return true
	}
	if durationTicks <= 0 {
		return false
	}
	window := int64(float64(durationTicks) * nearEndFraction)
	return stopTicks >= durationTicks-window
}

func sameTrackURI(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// report runs a reporter call and swallows its error. Device control never
// fails because session bookkeeping did.
func (c *Controller) report(fn func() error) {
	if c.reporter == nil {
		return
	}
	if err := fn(); err != nil {
		c.logger.Debug("progress report failed", "error", err)
	}
}

func (c *Controller) currentEntry() *PlaylistEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cursor < 0 || c.cursor >= len(c.playlist) {
		return nil
	}
	entry := c.playlist[c.cursor]
	return &entry
}

func (c *Controller) currentPosition() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.positionTicks
}

func (c *Controller) snapshotState() TransportState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) setPlaylist(entries []PlaylistEntry) {
	c.mu.Lock()
	c.playlist = entries
	c.cursor = -1
	c.mu.Unlock()
}

func (c *Controller) setState(s TransportState) {
	c.mu.Lock()
	c.state = s
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Controller) setPosition(ticks int64) {
	c.mu.Lock()
	c.positionTicks = ticks
	c.mu.Unlock()
}

func (c *Controller) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}
