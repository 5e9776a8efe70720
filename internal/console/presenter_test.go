package console

import (
	"bytes"
	"image"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type sinkLines struct {
	mu    sync.Mutex
	lines []string
}

func (s *sinkLines) Write(_ time.Time, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
	return nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

var at = time.Date(2024, 5, 1, 9, 30, 15, 0, time.Local)

func TestPresenter_TextFlushedAfterWindow(t *testing.T) {
	out := &syncBuffer{}
	p := NewPresenter(out, nil, 20*time.Millisecond)

	p.Text(at, []byte("Client(10.0.0.2):hello\n"))
	assert.Empty(t, out.String(), "text waits for the window")

	assert.Eventually(t, func() bool {
		return out.String() == "[09:30:15] Client(10.0.0.2):hello\n"
	}, time.Second, 5*time.Millisecond)
}

func TestPresenter_TextAndImageCoalesced(t *testing.T) {
	out := &syncBuffer{}
	sink := &sinkLines{}
	p := NewPresenter(out, sink, time.Hour)

	p.Text(at, []byte("Client(10.0.0.2):look\n"))
	p.Image(at.Add(time.Second), "Client(10.0.0.2)", pngBytes(t, 4, 3))

	got := out.String()
	assert.Equal(t, 1, strings.Count(got, "[09:30:15]"), "one header for both")
	assert.Contains(t, got, "Client(10.0.0.2):look\n    [image image/png 4x3,")
	assert.Len(t, sink.lines, 1)
}

func TestPresenter_ImageAlone(t *testing.T) {
	out := &syncBuffer{}
	p := NewPresenter(out, nil, time.Hour)

	p.Image(at, "Client(10.0.0.2)", []byte("not an image"))
	assert.Equal(t, "[09:30:15] Client(10.0.0.2): [image text/plain; charset=utf-8, 12 bytes]\n", out.String())
}

func TestPresenter_SystemFlushesPendingText(t *testing.T) {
	out := &syncBuffer{}
	p := NewPresenter(out, nil, time.Hour)

	p.Text(at, []byte("Client(10.0.0.2):bye\n"))
	p.System(at, "session with %s closed", "10.0.0.2:5000")

	assert.Equal(t,
		"[09:30:15] Client(10.0.0.2):bye\n[09:30:15] * session with 10.0.0.2:5000 closed\n",
		out.String())
}

func TestPresenter_Outgoing(t *testing.T) {
	out := &syncBuffer{}
	p := NewPresenter(out, nil, 0)

	p.Outgoing(at, "Server(10.0.0.1):hi\n")
	assert.Equal(t, "[09:30:15] Server(10.0.0.1):hi\n", out.String())
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "[image image/png 2x2, ", Describe(pngBytes(t, 2, 2))[:len("[image image/png 2x2, ")])
	assert.Contains(t, Describe([]byte{0xff, 0xd8, 0xff, 0xe0}), "image/jpeg")
}
