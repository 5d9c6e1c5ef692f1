package screenshot

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/earthcopilot/mapview/internal/mapprovider"
)

// Capture modes understood by the map client.
const (
	ModeCanvas    = "canvas"
	ModeComposite = "composite"
)

// ErrNoFrame is returned when the client does not answer in time.
var ErrNoFrame = eris.New("screenshot: client sent no frame")

// RemoteSurface is a Surface living in a connected browser. Requests go out
// through the session's command sink and the client answers by uploading a
// frame tagged with the request id.
type RemoteSurface struct {
	sink    mapprovider.Sink
	timeout time.Duration

	mu      sync.Mutex
	waiting map[string]chan []byte
}

// NewRemoteSurface creates a RemoteSurface. timeout bounds each round trip.
func NewRemoteSurface(sink mapprovider.Sink, timeout time.Duration) *RemoteSurface {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RemoteSurface{sink: sink, timeout: timeout, waiting: make(map[string]chan []byte)}
}

func (s *RemoteSurface) RequestRender(ctx context.Context) error {
	return s.sink.Send(ctx, mapprovider.Command{Provider: "surface", Op: "render"})
}

func (s *RemoteSurface) NextFrame(ctx context.Context) error {
	_, err := s.roundTrip(ctx, "frame", "")
	return err
}

func (s *RemoteSurface) Capture(ctx context.Context) ([]byte, error) {
	return s.roundTrip(ctx, "capture", ModeCanvas)
}

func (s *RemoteSurface) FallbackCapture(ctx context.Context) ([]byte, error) {
	return s.roundTrip(ctx, "capture", ModeComposite)
}

// Deliver hands an uploaded frame to the request waiting on id. It reports
// false for unknown or expired requests.
func (s *RemoteSurface) Deliver(id string, data []byte) bool {
	s.mu.Lock()
	ch, ok := s.waiting[id]
	delete(s.waiting, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	ch <- data
	return true
}

// Pending returns the number of unanswered requests.
func (s *RemoteSurface) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiting)
}

func (s *RemoteSurface) roundTrip(ctx context.Context, op, mode string) ([]byte, error) {
	id := uuid.NewString()
	ch := make(chan []byte, 1)
	s.mu.Lock()
	s.waiting[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.waiting, id)
		s.mu.Unlock()
	}()

	args := map[string]string{"request_id": id}
	if mode != "" {
		args["mode"] = mode
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, eris.Wrap(err, "screenshot: encode request")
	}
	if err := s.sink.Send(ctx, mapprovider.Command{Provider: "surface", Op: op, Args: raw}); err != nil {
		return nil, eris.Wrapf(err, "screenshot: send %s", op)
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case data := <-ch:
		return data, nil
	case <-timer.C:
		return nil, eris.Wrapf(ErrNoFrame, "screenshot: %s after %s", op, s.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
