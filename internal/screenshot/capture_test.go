package screenshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earthcopilot/mapview/internal/mapprovider"
)

type fakeSurface struct {
	calls    []string
	primary  []byte
	fallback []byte
	frameErr error
}

func (f *fakeSurface) RequestRender(context.Context) error {
	f.calls = append(f.calls, "render")
	return nil
}

func (f *fakeSurface) NextFrame(context.Context) error {
	f.calls = append(f.calls, "frame")
	return f.frameErr
}

func (f *fakeSurface) Capture(context.Context) ([]byte, error) {
	f.calls = append(f.calls, "capture")
	return f.primary, nil
}

func (f *fakeSurface) FallbackCapture(context.Context) ([]byte, error) {
	f.calls = append(f.calls, "fallback")
	return f.fallback, nil
}

func TestCapture_RenderThenFrameThenCapture(t *testing.T) {
	s := &fakeSurface{primary: make([]byte, DefaultMinBytes)}
	img, err := NewCapturer(s, Options{}).Capture(context.Background())
	require.NoError(t, err)
	assert.Len(t, img, DefaultMinBytes)
	assert.Equal(t, []string{"render", "frame", "capture"}, s.calls)
}

func TestCapture_BlankUsesFallback(t *testing.T) {
	s := &fakeSurface{primary: make([]byte, 100), fallback: make([]byte, 20000)}
	img, err := NewCapturer(s, Options{}).Capture(context.Background())
	require.NoError(t, err)
	assert.Len(t, img, 20000)
	assert.Equal(t, []string{"render", "frame", "capture", "fallback"}, s.calls)
}

func TestCapture_BothBlank(t *testing.T) {
	s := &fakeSurface{primary: make([]byte, 100), fallback: make([]byte, 200)}
	_, err := NewCapturer(s, Options{}).Capture(context.Background())
	assert.ErrorIs(t, err, ErrEmptyCapture)
}

func TestCapture_FrameError(t *testing.T) {
	s := &fakeSurface{frameErr: errors.New("hidden tab")}
	_, err := NewCapturer(s, Options{}).Capture(context.Background())
	require.Error(t, err)
	assert.NotContains(t, s.calls, "capture")
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), uint8(x ^ y), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDownscale(t *testing.T) {
	out, err := Downscale(testPNG(t, 400, 200), 100)
	require.NoError(t, err)
	cfg, err := png.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)

	out, err = Downscale(testPNG(t, 40, 20), 100)
	require.NoError(t, err)
	cfg, err = png.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Width)

	_, err = Downscale([]byte("not an image"), 100)
	assert.Error(t, err)
}

func TestCaptureDataURL(t *testing.T) {
	frame := testPNG(t, 300, 300)
	s := &fakeSurface{primary: frame}
	url, err := NewCapturer(s, Options{MinBytes: 10, MaxDimension: 150}).CaptureDataURL(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	raw, err := DecodeDataURL(url)
	require.NoError(t, err)
	cfg, err := png.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 150, cfg.Width)
}

func TestDecodeDataURL_PlainBase64(t *testing.T) {
	raw, err := DecodeDataURL("aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(raw))

	_, err = DecodeDataURL("data:image/png;base64,!!!")
	assert.Error(t, err)
}

// answeringSink answers every surface request with the given frame.
type answeringSink struct {
	surface *RemoteSurface
	frame   []byte
	ops     []string
}

func (a *answeringSink) Send(_ context.Context, cmd mapprovider.Command) error {
	a.ops = append(a.ops, cmd.Op)
	if len(cmd.Args) == 0 {
		return nil
	}
	var args struct {
		RequestID string `json:"request_id"`
		Mode      string `json:"mode"`
	}
	if err := json.Unmarshal(cmd.Args, &args); err != nil {
		return err
	}
	go a.surface.Deliver(args.RequestID, a.frame)
	return nil
}

func TestRemoteSurface_RoundTrip(t *testing.T) {
	sink := &answeringSink{frame: make([]byte, 12000)}
	rs := NewRemoteSurface(sink, time.Second)
	sink.surface = rs

	img, err := NewCapturer(rs, Options{}).Capture(context.Background())
	require.NoError(t, err)
	assert.Len(t, img, 12000)
	assert.Equal(t, []string{"render", "frame", "capture"}, sink.ops)
	assert.Zero(t, rs.Pending())
}

func TestRemoteSurface_Timeout(t *testing.T) {
	rec := mapprovider.NewRecorder()
	rs := NewRemoteSurface(rec, 10*time.Millisecond)

	_, err := rs.Capture(context.Background())
	assert.ErrorIs(t, err, ErrNoFrame)
	assert.Zero(t, rs.Pending())
	assert.False(t, rs.Deliver("unknown", nil))
}
