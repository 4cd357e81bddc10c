package dlnamodule

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castserve/castserve/internal/media"
)

// soapServer is a minimal AVTransport/RenderingControl endpoint that records
// received actions.
type soapServer struct {
	mu       sync.Mutex
	actions  []string
	bodies   []string
	respond  map[string]string
	failNext int
}

func (s *soapServer) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	action := r.Header.Get("SOAPACTION")
	name := action
	if i := strings.LastIndex(action, "#"); i >= 0 {
		name = strings.Trim(action[i+1:], `"`)
	}

	s.mu.Lock()
	s.actions = append(s.actions, name)
	s.bodies = append(s.bodies, string(body))
	fail := s.failNext > 0
	if fail {
		s.failNext--
	}
	inner := s.respond[name]
	s.mu.Unlock()

	if fail {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	fmt.Fprintf(w, `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>
<u:%sResponse xmlns:u="urn:schemas-upnp-org:service:AVTransport:1">%s</u:%sResponse>
</s:Body></s:Envelope>`, name, inner, name)
}

func (s *soapServer) lastBody() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bodies) == 0 {
		return ""
	}
	return s.bodies[len(s.bodies)-1]
}

func (s *soapServer) receivedActions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.actions...)
}

func newSOAPTestServer(t *testing.T) (*soapServer, DeviceTransport) {
	t.Helper()
	srv := &soapServer{respond: make(map[string]string)}
	ts := httptest.NewServer(http.HandlerFunc(srv.handler))
	t.Cleanup(ts.Close)
	return srv, NewSOAPTransport(ts.URL+"/av", ts.URL+"/rcs", 5*time.Second)
}

func TestSOAPSetAVTransportURI(t *testing.T) {
	srv, tr := newSOAPTestServer(t)

	err := tr.SetAVTransportURI(context.Background(),
		"http://server/videos/item-1/stream.mp4", "<DIDL-Lite/>")
	require.NoError(t, err)

	assert.Equal(t, []string{"SetAVTransportURI"}, srv.receivedActions())
	body := srv.lastBody()
	assert.Contains(t, body, "<CurrentURI>http://server/videos/item-1/stream.mp4</CurrentURI>")
	// Metadata must travel XML-escaped inside the envelope.
	assert.Contains(t, body, "&lt;DIDL-Lite/&gt;")
}

func TestSOAPPlayAndSeek(t *testing.T) {
	srv, tr := newSOAPTestServer(t)

	require.NoError(t, tr.Play(context.Background()))
	require.NoError(t, tr.Seek(context.Background(), 93*media.TicksPerSecond))

	assert.Equal(t, []string{"Play", "Seek"}, srv.receivedActions())
	assert.Contains(t, srv.lastBody(), "<Target>0:01:33</Target>")
	assert.Contains(t, srv.lastBody(), "<Unit>REL_TIME</Unit>")
}

func TestSOAPPositionInfo(t *testing.T) {
	srv, tr := newSOAPTestServer(t)
	srv.respond["GetPositionInfo"] = `<Track>1</Track>` +
		`<TrackDuration>0:45:30</TrackDuration>` +
		`<TrackURI>http://server/videos/item-1/stream.mp4</TrackURI>` +
		`<RelTime>0:12:15.500</RelTime>`

	pos, err := tr.PositionInfo(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, pos.Track)
	assert.Equal(t, int64(2730)*media.TicksPerSecond, pos.TrackDuration)
	assert.Equal(t, "http://server/videos/item-1/stream.mp4", pos.TrackURI)
	assert.Equal(t, int64(735)*media.TicksPerSecond+media.TicksPerSecond/2, pos.RelTimeTicks)
}

func TestSOAPTransportInfo(t *testing.T) {
	srv, tr := newSOAPTestServer(t)
	srv.respond["GetTransportInfo"] = `<CurrentTransportState>PLAYING</CurrentTransportState>` +
		`<CurrentTransportStatus>OK</CurrentTransportStatus>`

	info, err := tr.TransportInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TransportStatePlaying, info.State)
	assert.Equal(t, "OK", info.Status)
}

func TestSOAPRetriesTransientFailures(t *testing.T) {
	srv, tr := newSOAPTestServer(t)
	srv.failNext = 1

	// First attempt gets a 500, the retry succeeds.
	require.NoError(t, tr.Stop(context.Background()))
	assert.Equal(t, []string{"Stop", "Stop"}, srv.receivedActions())
}

func TestSOAPVolume(t *testing.T) {
	srv, tr := newSOAPTestServer(t)
	srv.respond["GetVolume"] = `<CurrentVolume>42</CurrentVolume>`

	require.NoError(t, tr.SetVolume(context.Background(), 150))
	// Out-of-range volume clamps to the renderer's 0..100 scale.
	assert.Contains(t, srv.lastBody(), "<DesiredVolume>100</DesiredVolume>")

	v, err := tr.Volume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestFormatTicks(t *testing.T) {
	assert.Equal(t, "0:00:00", FormatTicks(0))
	assert.Equal(t, "0:00:00", FormatTicks(-5))
	assert.Equal(t, "0:01:33", FormatTicks(93*media.TicksPerSecond))
	assert.Equal(t, "2:05:07", FormatTicks((2*3600+5*60+7)*media.TicksPerSecond))
}

func TestParseClockTime(t *testing.T) {
	assert.Equal(t, int64(0), ParseClockTime(""))
	assert.Equal(t, int64(0), ParseClockTime("NOT_IMPLEMENTED"))
	assert.Equal(t, int64(0), ParseClockTime("garbage"))
	assert.Equal(t, int64(0), ParseClockTime("1:2:3:4"))

	assert.Equal(t, int64(93)*media.TicksPerSecond, ParseClockTime("0:01:33"))
	assert.Equal(t, int64(7507)*media.TicksPerSecond, ParseClockTime("2:05:07"))
	assert.Equal(t, int64(45)*media.TicksPerSecond, ParseClockTime("45"))
	assert.Equal(t, int64(90)*media.TicksPerSecond, ParseClockTime("1:30"))

	// Fractional seconds round-trip through ticks.
	assert.Equal(t, int64(30)*media.TicksPerSecond+media.TicksPerSecond/4,
		ParseClockTime("0:00:30.250"))
}
