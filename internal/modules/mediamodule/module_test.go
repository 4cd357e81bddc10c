package mediamodule

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/castserve/castserve/internal/database"
	"github.com/castserve/castserve/internal/media"
	"github.com/castserve/castserve/internal/modules/playbackmodule"
)

func newTestModule(t *testing.T) *Module {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	m := &Module{
		db:     db,
		logger: hclog.New(&hclog.LoggerOptions{Name: "test-media", Level: hclog.Warn}),
	}
	require.NoError(t, m.Migrate(db))
	return m
}

func seedItem(t *testing.T, m *Module) string {
	t.Helper()
	item := database.MediaItem{ID: "item-1", Name: "Big Buck Bunny", Kind: "Video"}
	require.NoError(t, m.db.Create(&item).Error)

	source := database.MediaSource{
		ID:           "src-1",
		MediaItemID:  item.ID,
		Path:         "/library/bbb.mp4",
		Protocol:     "file",
		Container:    "mp4",
		RunTimeTicks: 5_960_000_000,
		Bitrate:      3_700_000,
	}
	require.NoError(t, m.db.Create(&source).Error)

	streams := []database.MediaStreamRow{
		{MediaSourceID: source.ID, StreamIndex: 0, Type: "video", Codec: "h264",
			Width: 1920, Height: 1080, Level: 4.0, Profile: "high", FrameRate: 24},
		{MediaSourceID: source.ID, StreamIndex: 1, Type: "audio", Codec: "aac",
			Channels: 2, BitRate: 192_000, Language: "eng", IsDefault: true},
	}
	for i := range streams {
		require.NoError(t, m.db.Create(&streams[i]).Error)
	}
	return item.ID
}

func TestItemLookup(t *testing.T) {
	m := newTestModule(t)
	id := seedItem(t, m)

	item, err := m.Item(id)
	require.NoError(t, err)
	assert.Equal(t, "Big Buck Bunny", item.Name)
	assert.Equal(t, media.KindVideo, item.Kind)

	_, err = m.Item("nope")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestSourcesCarryStreamLayout(t *testing.T) {
	m := newTestModule(t)
	id := seedItem(t, m)

	sources, err := m.Sources(id)
	require.NoError(t, err)
	require.Len(t, sources, 1)

	src := sources[0]
	assert.Equal(t, "src-1", src.ID)
	assert.Equal(t, media.ProtocolFile, src.Protocol)
	assert.Equal(t, "mp4", src.Container)
	assert.True(t, src.CanSeek())
	require.Len(t, src.Streams, 2)

	vs := src.VideoStream()
	require.NotNil(t, vs)
	assert.Equal(t, "h264", vs.Codec)
	assert.Equal(t, 1920, vs.Width)

	as := src.DefaultStream(media.StreamTypeAudio)
	require.NotNil(t, as)
	assert.Equal(t, 1, as.Index)
	assert.Equal(t, "aac", as.Codec)
}

func TestLeavesFlattenFolders(t *testing.T) {
	m := newTestModule(t)

	rows := []database.MediaItem{
		{ID: "album-1", Name: "Album", Kind: "Audio", IsFolder: true},
		{ID: "disc-2", ParentID: "album-1", Name: "Disc 2", Kind: "Audio", IsFolder: true},
		{ID: "track-1", ParentID: "album-1", Name: "01 Intro", Kind: "Audio"},
		{ID: "track-2", ParentID: "album-1", Name: "02 Song", Kind: "Audio"},
		{ID: "track-3", ParentID: "disc-2", Name: "01 Reprise", Kind: "Audio"},
	}
	for i := range rows {
		require.NoError(t, m.db.Create(&rows[i]).Error)
	}

	leaves, err := m.Leaves("album-1")
	require.NoError(t, err)

	// Children flatten in name order, nested folders recurse in place.
	ids := make([]string, 0, len(leaves))
	for _, l := range leaves {
		ids = append(ids, l.ID)
	}
	assert.Equal(t, []string{"track-1", "track-2", "track-3"}, ids)
	for _, l := range leaves {
		assert.False(t, l.IsFolder)
	}
}

func TestLeavesOfPlainItem(t *testing.T) {
	m := newTestModule(t)
	id := seedItem(t, m)

	leaves, err := m.Leaves(id)
	require.NoError(t, err)
	require.Len(t, leaves, 1)
	assert.Equal(t, id, leaves[0].ID)

	_, err = m.Leaves("nope")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestSourcesOfItemWithoutAny(t *testing.T) {
	m := newTestModule(t)
	require.NoError(t, m.db.Create(&database.MediaItem{ID: "bare", Name: "Bare", Kind: "Video"}).Error)

	_, err := m.Sources("bare")
	assert.ErrorIs(t, err, playbackmodule.ErrNoEligibleSource)
}

// The resolver output plugs straight into the decision builder.
func TestResolverFeedsDecisionBuilder(t *testing.T) {
	m := newTestModule(t)
	id := seedItem(t, m)

	item, err := m.Item(id)
	require.NoError(t, err)
	sources, err := m.Sources(id)
	require.NoError(t, err)

	builder := playbackmodule.NewStreamBuilder(
		hclog.New(&hclog.LoggerOptions{Name: "test", Level: hclog.Warn}), 8_000_000)
	d, err := builder.BuildDecision(playbackmodule.BuildOptions{
		ItemID:  item.ID,
		Kind:    item.Kind,
		Sources: sources,
		Profile: playbackmodule.DefaultProfile(),
	})
	require.NoError(t, err)
	assert.True(t, d.IsDirectStream)
	assert.Equal(t, "mp4", d.Container)
}
