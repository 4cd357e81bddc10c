package dlnamodule

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/castserve/castserve/internal/media"
)

// TransportState mirrors the AVTransport state variable of a renderer.
type TransportState string

const (
	TransportStatePlaying       TransportState = "PLAYING"
	TransportStatePaused        TransportState = "PAUSED_PLAYBACK"
	TransportStateStopped       TransportState = "STOPPED"
	TransportStateTransitioning TransportState = "TRANSITIONING"
	TransportStateNoMedia       TransportState = "NO_MEDIA_PRESENT"
)

// PositionInfo is the renderer's answer to GetPositionInfo, with clock
// values already converted to ticks.
type PositionInfo struct {
	Track         int
	TrackDuration int64
	TrackURI      string
	RelTimeTicks  int64
}

// TransportInfo is the renderer's answer to GetTransportInfo.
type TransportInfo struct {
	State  TransportState
	Status string
}

// DeviceTransport drives one renderer. Implementations must be safe for use
// from a single goroutine; the controller serializes all calls.
type DeviceTransport interface {
	SetAVTransportURI(ctx context.Context, uri, metadata string) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Seek(ctx context.Context, positionTicks int64) error
	PositionInfo(ctx context.Context) (*PositionInfo, error)
	TransportInfo(ctx context.Context) (*TransportInfo, error)
	SetVolume(ctx context.Context, volume int) error
	Volume(ctx context.Context) (int, error)
	SetMute(ctx context.Context, mute bool) error
}

const (
	avTransportService      = "urn:schemas-upnp-org:service:AVTransport:1"
	renderingControlService = "urn:schemas-upnp-org:service:RenderingControl:1"
)

// soapTransport is the SOAP implementation of DeviceTransport. Calls retry
// transparently on transient transport errors; SOAP faults do not retry.
type soapTransport struct {
	client        *retryablehttp.Client
	avControlURL  string
	rcsControlURL string
}

// NewSOAPTransport creates a transport for a renderer's control endpoints.
func NewSOAPTransport(avControlURL, rcsControlURL string, timeout time.Duration) DeviceTransport {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 250 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = timeout
	client.Logger = nil

	return &soapTransport{
		client:        client,
		avControlURL:  avControlURL,
		rcsControlURL: rcsControlURL,
	}
}

type soapArg struct {
	name  string
	value string
}

func (t *soapTransport) SetAVTransportURI(ctx context.Context, uri, metadata string) error {
	_, err := t.invoke(ctx, t.avControlURL, avTransportService, "SetAVTransportURI",
		soapArg{"InstanceID", "0"},
		soapArg{"CurrentURI", uri},
		soapArg{"CurrentURIMetaData", metadata},
	)
	return err
}

func (t *soapTransport) Play(ctx context.Context) error {
	_, err := t.invoke(ctx, t.avControlURL, avTransportService, "Play",
		soapArg{"InstanceID", "0"},
		soapArg{"Speed", "1"},
	)
	return err
}

func (t *soapTransport) Pause(ctx context.Context) error {
	_, err := t.invoke(ctx, t.avControlURL, avTransportService, "Pause",
		soapArg{"InstanceID", "0"},
	)
	return err
}

func (t *soapTransport) Stop(ctx context.Context) error {
	_, err := t.invoke(ctx, t.avControlURL, avTransportService, "Stop",
		soapArg{"InstanceID", "0"},
	)
	return err
}

func (t *soapTransport) Seek(ctx context.Context, positionTicks int64) error {
	_, err := t.invoke(ctx, t.avControlURL, avTransportService, "Seek",
		soapArg{"InstanceID", "0"},
		soapArg{"Unit", "REL_TIME"},
		soapArg{"Target", FormatTicks(positionTicks)},
	)
	return err
}

type positionInfoResponse struct {
	Track         string `xml:"Track"`
	TrackDuration string `xml:"TrackDuration"`
	TrackURI      string `xml:"TrackURI"`
	RelTime       string `xml:"RelTime"`
}

func (t *soapTransport) PositionInfo(ctx context.Context) (*PositionInfo, error) {
	body, err := t.invoke(ctx, t.avControlURL, avTransportService, "GetPositionInfo",
		soapArg{"InstanceID", "0"},
	)
	if err != nil {
		return nil, err
	}

	var resp positionInfoResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse position info: %w", err)
	}

	track, _ := strconv.Atoi(resp.Track)
	return &PositionInfo{
		Track:         track,
		TrackDuration: ParseClockTime(resp.TrackDuration),
		TrackURI:      strings.TrimSpace(resp.TrackURI),
		RelTimeTicks:  ParseClockTime(resp.RelTime),
	}, nil
}

type transportInfoResponse struct {
	CurrentTransportState  string `xml:"CurrentTransportState"`
	CurrentTransportStatus string `xml:"CurrentTransportStatus"`
}

func (t *soapTransport) TransportInfo(ctx context.Context) (*TransportInfo, error) {
	body, err := t.invoke(ctx, t.avControlURL, avTransportService, "GetTransportInfo",
		soapArg{"InstanceID", "0"},
	)
	if err != nil {
		return nil, err
	}

	var resp transportInfoResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse transport info: %w", err)
	}
	return &TransportInfo{
		State:  TransportState(resp.CurrentTransportState),
		Status: resp.CurrentTransportStatus,
	}, nil
}

func (t *soapTransport) SetVolume(ctx context.Context, volume int) error {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	_, err := t.invoke(ctx, t.rcsControlURL, renderingControlService, "SetVolume",
		soapArg{"InstanceID", "0"},
		soapArg{"Channel", "Master"},
		soapArg{"DesiredVolume", strconv.Itoa(volume)},
	)
	return err
}

type volumeResponse struct {
	CurrentVolume string `xml:"CurrentVolume"`
}

func (t *soapTransport) Volume(ctx context.Context) (int, error) {
	body, err := t.invoke(ctx, t.rcsControlURL, renderingControlService, "GetVolume",
		soapArg{"InstanceID", "0"},
		soapArg{"Channel", "Master"},
	)
	if err != nil {
		return 0, err
	}

	var resp volumeResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("failed to parse volume: %w", err)
	}
	v, _ := strconv.Atoi(resp.CurrentVolume)
	return v, nil
}

func (t *soapTransport) SetMute(ctx context.Context, mute bool) error {
	desired := "0"
	if mute {
		desired = "1"
	}
	_, err := t.invoke(ctx, t.rcsControlURL, renderingControlService, "SetMute",
		soapArg{"InstanceID", "0"},
		soapArg{"Channel", "Master"},
		soapArg{"DesiredMute", desired},
	)
	return err
}

// invoke performs one SOAP action and returns the raw response body for the
// caller to pull out-arguments from.
func (t *soapTransport) invoke(ctx context.Context, controlURL, service, action string, args ...soapArg) ([]byte, error) {
	envelope := buildSOAPEnvelope(service, action, args)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, controlURL, []byte(envelope))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", fmt.Sprintf(`"%s#%s"`, service, action))

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", action, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", action, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned HTTP %d", action, resp.StatusCode)
	}
	return body, nil
}

func buildSOAPEnvelope(service, action string, args []soapArg) string {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/"><s:Body>`)
	fmt.Fprintf(&b, `<u:%s xmlns:u="%s">`, action, service)
	for _, a := range args {
		fmt.Fprintf(&b, "<%s>%s</%s>", a.name, xmlEscape(a.value), a.name)
	}
	fmt.Fprintf(&b, `</u:%s>`, action)
	b.WriteString(`</s:Body></s:Envelope>`)
	return b.String()
}

func xmlEscape(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}

// FormatTicks renders a tick count as the H:MM:SS clock value AVTransport
// expects.
func FormatTicks(ticks int64) string {
	if ticks < 0 {
		ticks = 0
	}
	totalSeconds := ticks / media.TicksPerSecond
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60
	return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
}

// ParseClockTime converts an AVTransport clock value (H:MM:SS, optionally
// with a fractional part) to ticks. Unknown or unimplemented values parse
// as zero.
func ParseClockTime(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "NOT_IMPLEMENTED") {
		return 0
	}

	var fraction float64
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		if f, err := strconv.ParseFloat("0"+s[dot:], 64); err == nil {
			fraction = f
		}
		s = s[:dot]
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0
	}
	var totalSeconds int64
	for _, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || v < 0 {
			return 0
		}
		totalSeconds = totalSeconds*60 + v
	}
	return totalSeconds*media.TicksPerSecond + int64(fraction*float64(media.TicksPerSecond))
}
