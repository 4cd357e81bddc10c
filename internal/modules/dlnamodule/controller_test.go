package dlnamodule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castserve/castserve/internal/media"
	"github.com/castserve/castserve/internal/modules/playbackmodule"
)

// fakeTransport records calls and plays back scripted renderer state.
type fakeTransport struct {
	mu sync.Mutex

	calls    []string
	uri      string
	metadata string
	seekPos  int64
	volume   int
	muted    bool

	state    TransportState
	position int64
	duration int64
	trackURI string

	failOn map[string]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		state:  TransportStateNoMedia,
		failOn: make(map[string]error),
	}
}

func (f *fakeTransport) record(name string) error {
	f.calls = append(f.calls, name)
	return f.failOn[name]
}

func (f *fakeTransport) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeTransport) SetAVTransportURI(_ context.Context, uri, metadata string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetAVTransportURI"); err != nil {
		return err
	}
	f.uri = uri
	f.metadata = metadata
	f.trackURI = uri
	return nil
}

func (f *fakeTransport) Play(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Play"); err != nil {
		return err
	}
	f.state = TransportStatePlaying
	return nil
}

func (f *fakeTransport) Pause(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Pause"); err != nil {
		return err
	}
	f.state = TransportStatePaused
	return nil
}

func (f *fakeTransport) Stop(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Stop"); err != nil {
		return err
	}
	f.state = TransportStateStopped
	return nil
}

func (f *fakeTransport) Seek(_ context.Context, positionTicks int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Seek"); err != nil {
		return err
	}
	f.seekPos = positionTicks
	f.position = positionTicks
	return nil
}

func (f *fakeTransport) PositionInfo(_ context.Context) (*PositionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("PositionInfo"); err != nil {
		return nil, err
	}
	return &PositionInfo{
		TrackDuration: f.duration,
		TrackURI:      f.trackURI,
		RelTimeTicks:  f.position,
	}, nil
}

func (f *fakeTransport) TransportInfo(_ context.Context) (*TransportInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("TransportInfo"); err != nil {
		return nil, err
	}
	return &TransportInfo{State: f.state, Status: "OK"}, nil
}

func (f *fakeTransport) SetVolume(_ context.Context, volume int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetVolume"); err != nil {
		return err
	}
	f.volume = volume
	return nil
}

func (f *fakeTransport) Volume(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volume, f.record("GetVolume")
}

func (f *fakeTransport) SetMute(_ context.Context, mute bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetMute"); err != nil {
		return err
	}
	f.muted = mute
	return nil
}

func (f *fakeTransport) setRendererState(state TransportState, position int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
	f.position = position
}

func (f *fakeTransport) setTrackURI(uri string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trackURI = uri
}

// fakeReporter records session callbacks.
type fakeReporter struct {
	mu       sync.Mutex
	starts   []string
	stops    []int64
	progress []int64
	err      error
}

func (r *fakeReporter) OnPlaybackStart(_, itemID, _ string, _ bool, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, itemID)
	return r.err
}

func (r *fakeReporter) OnPlaybackProgress(_ string, positionTicks int64, _ bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, positionTicks)
	return r.err
}

func (r *fakeReporter) OnPlaybackStopped(_ string, positionTicks int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops = append(r.stops, positionTicks)
	return r.err
}

func (r *fakeReporter) startedItems() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.starts...)
}

func (r *fakeReporter) stoppedPositions() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.stops...)
}

func controllerLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{Name: "test-playto", Level: hclog.Warn})
}

func testEntries(n int) []PlaylistEntry {
	entries := make([]PlaylistEntry, n)
	for i := range entries {
		entries[i] = PlaylistEntry{
			ItemID: "item-" + string(rune('a'+i)),
			Decision: &playbackmodule.StreamDecision{
				ItemID:       "item-" + string(rune('a'+i)),
				Kind:         media.KindVideo,
				RunTimeTicks: 60 * media.TicksPerSecond,
			},
			StreamURL: "http://server/videos/item-" + string(rune('a'+i)) + "/stream.mp4",
		}
	}
	return entries
}

// newTestController uses a long poll interval so tests drive the loop only
// through commands unless they explicitly wait for polls.
func newTestController(t *testing.T, transport DeviceTransport, reporter ProgressReporter, pollInterval time.Duration) *Controller {
	t.Helper()
	c := NewController(controllerLogger(),
		DeviceInfo{ID: "dev-1", USN: "uuid:dev-1", FriendlyName: "Test Renderer"},
		transport, reporter, "session-1",
		ControllerConfig{PollInterval: pollInterval, NearEndFraction: 0.10, CommandQueue: 16})
	t.Cleanup(c.Close)
	return c
}

func TestPlayItemsStartsPlayback(t *testing.T) {
	ft := newFakeTransport()
	fr := &fakeReporter{}
	c := newTestController(t, ft, fr, time.Hour)

	entries := testEntries(2)
	require.NoError(t, c.PlayItems(entries, 0))

	st := c.Status()
	assert.Equal(t, TransportStatePlaying, st.State)
	assert.Equal(t, 0, st.CurrentIndex)
	assert.Len(t, st.Playlist, 2)
	assert.Equal(t, entries[0].StreamURL, ft.uri)
	assert.Equal(t, []string{"item-a"}, fr.startedItems())
}

func TestPlayItemsValidation(t *testing.T) {
	c := newTestController(t, newFakeTransport(), &fakeReporter{}, time.Hour)

	assert.ErrorIs(t, c.PlayItems(nil, 0), ErrEmptyPlaylist)
	assert.ErrorIs(t, c.PlayItems(testEntries(2), 2), ErrIndexOutOfRange)
	assert.ErrorIs(t, c.PlayItems(testEntries(2), -1), ErrIndexOutOfRange)
}

func TestNextTrackAdvances(t *testing.T) {
	ft := newFakeTransport()
	fr := &fakeReporter{}
	c := newTestController(t, ft, fr, time.Hour)

	require.NoError(t, c.PlayItems(testEntries(3), 0))
	require.NoError(t, c.NextTrack())

	st := c.Status()
	assert.Equal(t, 1, st.CurrentIndex)
	assert.Equal(t, []string{"item-a", "item-b"}, fr.startedItems())
}

func TestNextTrackPastEndClearsAndStops(t *testing.T) {
	ft := newFakeTransport()
	fr := &fakeReporter{}
	c := newTestController(t, ft, fr, time.Hour)

	require.NoError(t, c.PlayItems(testEntries(1), 0))
	require.NoError(t, c.NextTrack())

	st := c.Status()
	assert.Empty(t, st.Playlist)
	assert.Equal(t, -1, st.CurrentIndex)
	assert.Equal(t, TransportStateStopped, st.State)
	assert.Equal(t, 1, ft.callCount("Stop"))
	assert.Len(t, fr.stoppedPositions(), 1)

	// The playlist is gone, further advances have nothing to act on.
	assert.ErrorIs(t, c.NextTrack(), ErrEmptyPlaylist)
}

func TestPreviousTrackClampsAtFirst(t *testing.T) {
	ft := newFakeTransport()
	fr := &fakeReporter{}
	c := newTestController(t, ft, fr, time.Hour)

	require.NoError(t, c.PlayItems(testEntries(2), 1))
	require.NoError(t, c.PreviousTrack())
	assert.Equal(t, 0, c.Status().CurrentIndex)

	// Already at the first entry: restarts it rather than failing.
	require.NoError(t, c.PreviousTrack())
	assert.Equal(t, 0, c.Status().CurrentIndex)
}

func TestPauseUnpause(t *testing.T) {
	ft := newFakeTransport()
	fr := &fakeReporter{}
	c := newTestController(t, ft, fr, time.Hour)

	require.NoError(t, c.PlayItems(testEntries(1), 0))
	require.NoError(t, c.Pause())
	assert.Equal(t, TransportStatePaused, c.Status().State)

	require.NoError(t, c.Unpause())
	assert.Equal(t, TransportStatePlaying, c.Status().State)
}

func TestSeekUpdatesPosition(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(t, ft, &fakeReporter{}, time.Hour)

	require.NoError(t, c.PlayItems(testEntries(1), 0))

	target := int64(30 * media.TicksPerSecond)
	require.NoError(t, c.Seek(target))
	assert.Equal(t, target, ft.seekPos)
	assert.Equal(t, target, c.Status().PositionTicks)
}

// fakeRebuilder records rebuild requests and answers with a fresh entry
// whose URL encodes the requested start position.
type fakeRebuilder struct {
	mu       sync.Mutex
	starts   []int64
	audio    []*int
	subtitle []*int
	direct   bool
	err      error
}

func (r *fakeRebuilder) fn() EntryRebuilder {
	return func(entry PlaylistEntry, startTicks int64, audioIndex, subtitleIndex *int) (PlaylistEntry, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.err != nil {
			return PlaylistEntry{}, r.err
		}
		r.starts = append(r.starts, startTicks)
		r.audio = append(r.audio, audioIndex)
		r.subtitle = append(r.subtitle, subtitleIndex)

		rebuilt := entry
		d := *entry.Decision
		d.StartPositionTicks = startTicks
		d.IsDirectStream = r.direct
		rebuilt.Decision = &d
		rebuilt.StreamURL = entry.StreamURL + "?rebuilt=1"
		return rebuilt, nil
	}
}

func TestSeekRebuildsTranscodedStream(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(t, ft, &fakeReporter{}, time.Hour)
	rb := &fakeRebuilder{}
	c.SetRebuilder(rb.fn())

	// testEntries decisions transcode, so a seek cannot ride the renderer's
	// own seek: the server must start encoding at the target.
	entries := testEntries(1)
	require.NoError(t, c.PlayItems(entries, 0))

	target := int64(45 * media.TicksPerSecond)
	require.NoError(t, c.Seek(target))

	assert.Equal(t, []int64{target}, rb.starts)
	assert.Equal(t, 0, ft.callCount("Seek"))
	assert.Equal(t, entries[0].StreamURL+"?rebuilt=1", ft.uri)
	assert.Equal(t, target, c.Status().PositionTicks)
	assert.Equal(t, target, c.Status().Playlist[0].Decision.StartPositionTicks)
}

func TestSeekDirectStreamUsesTransport(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(t, ft, &fakeReporter{}, time.Hour)
	rb := &fakeRebuilder{}
	c.SetRebuilder(rb.fn())

	entries := testEntries(1)
	entries[0].Decision.IsDirectStream = true
	require.NoError(t, c.PlayItems(entries, 0))

	target := int64(45 * media.TicksPerSecond)
	require.NoError(t, c.Seek(target))

	assert.Empty(t, rb.starts)
	assert.Equal(t, target, ft.seekPos)
}

func TestSetAudioStreamRebuildsAtCurrentPosition(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(t, ft, &fakeReporter{}, time.Hour)
	rb := &fakeRebuilder{}
	c.SetRebuilder(rb.fn())

	entries := testEntries(1)
	require.NoError(t, c.PlayItems(entries, 0))

	pos := int64(20 * media.TicksPerSecond)
	require.NoError(t, c.Seek(pos))
	require.NoError(t, c.SetAudioStream(2))

	rb.mu.Lock()
	defer rb.mu.Unlock()
	require.Len(t, rb.starts, 2)
	assert.Equal(t, pos, rb.starts[1])
	require.NotNil(t, rb.audio[1])
	assert.Equal(t, 2, *rb.audio[1])
	assert.Nil(t, rb.subtitle[1])

	// Play, the seek rebuild, then the switch each handed the renderer a URI.
	assert.Equal(t, 3, ft.callCount("SetAVTransportURI"))
	assert.Equal(t, TransportStatePlaying, c.Status().State)
}

func TestSetSubtitleStreamSwitch(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(t, ft, &fakeReporter{}, time.Hour)
	rb := &fakeRebuilder{}
	c.SetRebuilder(rb.fn())

	require.NoError(t, c.PlayItems(testEntries(1), 0))
	require.NoError(t, c.SetSubtitleStream(3))

	rb.mu.Lock()
	defer rb.mu.Unlock()
	require.Len(t, rb.subtitle, 1)
	require.NotNil(t, rb.subtitle[0])
	assert.Equal(t, 3, *rb.subtitle[0])
	assert.Nil(t, rb.audio[0])
}

func TestSetAudioStreamDirectResumesWithSeek(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(t, ft, &fakeReporter{}, time.Hour)
	rb := &fakeRebuilder{direct: true}
	c.SetRebuilder(rb.fn())

	entries := testEntries(1)
	entries[0].Decision.IsDirectStream = true
	require.NoError(t, c.PlayItems(entries, 0))

	pos := int64(20 * media.TicksPerSecond)
	require.NoError(t, c.Seek(pos))
	seeksBefore := ft.callCount("Seek")
	require.NoError(t, c.SetAudioStream(2))

	// The rebuilt direct URL serves the whole file; the renderer resumes by
	// seeking back to where it was.
	assert.Equal(t, seeksBefore+1, ft.callCount("Seek"))
	assert.Equal(t, pos, ft.seekPos)
}

func TestStreamSwitchWithoutRebuilder(t *testing.T) {
	c := newTestController(t, newFakeTransport(), &fakeReporter{}, time.Hour)

	require.NoError(t, c.PlayItems(testEntries(1), 0))
	assert.ErrorIs(t, c.SetAudioStream(2), ErrStreamSwitchUnavailable)
}

func TestStreamSwitchWithoutPlaylist(t *testing.T) {
	c := newTestController(t, newFakeTransport(), &fakeReporter{}, time.Hour)
	c.SetRebuilder((&fakeRebuilder{}).fn())

	assert.ErrorIs(t, c.SetAudioStream(2), ErrEmptyPlaylist)
}

func TestSeekWithoutPlaylist(t *testing.T) {
	c := newTestController(t, newFakeTransport(), &fakeReporter{}, time.Hour)
	assert.ErrorIs(t, c.Seek(0), ErrEmptyPlaylist)
}

func TestCommandsAfterClose(t *testing.T) {
	c := newTestController(t, newFakeTransport(), &fakeReporter{}, time.Hour)
	c.Close()

	assert.ErrorIs(t, c.Pause(), ErrSessionEnded)
	assert.ErrorIs(t, c.NextTrack(), ErrSessionEnded)
	assert.ErrorIs(t, c.PlayItems(testEntries(1), 0), ErrSessionEnded)
}

func TestReporterErrorsAreSwallowed(t *testing.T) {
	ft := newFakeTransport()
	fr := &fakeReporter{err: errors.New("registry offline")}
	c := newTestController(t, ft, fr, time.Hour)

	// Device control succeeds even when every report fails.
	require.NoError(t, c.PlayItems(testEntries(2), 0))
	require.NoError(t, c.Pause())
	require.NoError(t, c.NextTrack())
	require.NoError(t, c.Stop())
}

func TestTransportErrorPropagates(t *testing.T) {
	ft := newFakeTransport()
	boom := errors.New("renderer refused")
	ft.failOn["Play"] = boom

	c := newTestController(t, ft, &fakeReporter{}, time.Hour)
	assert.ErrorIs(t, c.PlayItems(testEntries(1), 0), boom)
}

func TestPollAdvancesCompletedTrack(t *testing.T) {
	ft := newFakeTransport()
	fr := &fakeReporter{}
	c := newTestController(t, ft, fr, 10*time.Millisecond)

	entries := testEntries(2)
	require.NoError(t, c.PlayItems(entries, 0))

	// The renderer finishes the track: stopped with the position reset to
	// zero, which the heuristic reads as completion.
	ft.setRendererState(TransportStateStopped, 0)

	require.Eventually(t, func() bool {
		return c.Status().CurrentIndex == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"item-a", "item-b"}, fr.startedItems())
}

func TestPollEndsAbandonedTrack(t *testing.T) {
	ft := newFakeTransport()
	fr := &fakeReporter{}
	c := newTestController(t, ft, fr, 10*time.Millisecond)

	entries := testEntries(2)
	require.NoError(t, c.PlayItems(entries, 0))

	// Someone stopped the renderer a third of the way in: not completed,
	// playback ends instead of advancing.
	ft.setRendererState(TransportStateStopped, 20*media.TicksPerSecond)

	require.Eventually(t, func() bool {
		return len(c.Status().Playlist) == 0
	}, time.Second, 5*time.Millisecond)

	stops := fr.stoppedPositions()
	require.Len(t, stops, 1)
	assert.Equal(t, int64(20*media.TicksPerSecond), stops[0])
}

func TestPollRejectsStalePosition(t *testing.T) {
	ft := newFakeTransport()
	fr := &fakeReporter{}
	c := newTestController(t, ft, fr, 10*time.Millisecond)

	require.NoError(t, c.PlayItems(testEntries(1), 0))

	// The renderer still answers with the previous track's URI; its
	// position must not be attributed to the current entry.
	ft.setRendererState(TransportStatePlaying, 55*media.TicksPerSecond)
	ft.setTrackURI("http://server/videos/old-item/stream.mp4")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), c.Status().PositionTicks)
}

func TestTrackCompletedHeuristic(t *testing.T) {
	duration := int64(60 * media.TicksPerSecond)

	// Renderers reset the position before reporting the stop.
	assert.True(t, trackCompleted(0, duration, 0.10))
	assert.True(t, trackCompleted(-1, duration, 0.10))

	// Inside the near-end window.
	assert.True(t, trackCompleted(duration, duration, 0.10))
	assert.True(t, trackCompleted(55*media.TicksPerSecond, duration, 0.10))
	assert.True(t, trackCompleted(54*media.TicksPerSecond, duration, 0.10))

	// Stopped early.
	assert.False(t, trackCompleted(30*media.TicksPerSecond, duration, 0.10))
	assert.False(t, trackCompleted(53*media.TicksPerSecond, duration, 0.10))

	// Unknown duration with a real position cannot be judged complete.
	assert.False(t, trackCompleted(30*media.TicksPerSecond, 0, 0.10))

	// A wider window is more forgiving.
	assert.True(t, trackCompleted(45*media.TicksPerSecond, duration, 0.30))
}
