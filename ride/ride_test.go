package ride

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progressive-ui/ride/host"
)

// stubNode and stubHost give App tests a headless renderer that just counts
// calls, mirroring the fake used inside internal/core's own tests.
type stubNode struct{ id int }

type stubHost struct {
	mu       sync.Mutex
	nodes    int
	rendered int
	torndown bool
}

func (h *stubHost) RootNode() host.Node { return &stubNode{} }

func (h *stubHost) CreateNode(component any) (host.Node, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodes++
	return &stubNode{id: h.nodes}, nil
}

func (h *stubHost) AttachNode(parent, child host.Node) error { return nil }
func (h *stubHost) DetachNode(parent, child host.Node)        {}
func (h *stubHost) DestroyNode(node host.Node)                {}

func (h *stubHost) RequestRender() {
	h.mu.Lock()
	h.rendered++
	h.mu.Unlock()
}

func (h *stubHost) Teardown() {
	h.mu.Lock()
	h.torndown = true
	h.mu.Unlock()
}

// widgetComponent is a stand-in app root: it counts effects dispatched for
// the "greet" op and records the payload of the last one.
type widgetComponent struct {
	Base
	mu      sync.Mutex
	greets  int
	lastMsg any
}

func (w *widgetComponent) Effect(op Op) Cleanup {
	if op.Type == "greet" {
		w.mu.Lock()
		w.greets++
		w.lastMsg = op.Payload
		w.mu.Unlock()
	}
	return nil
}

func (w *widgetComponent) snapshot() (int, any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.greets, w.lastMsg
}

func TestAppMountFlushUnmount(t *testing.T) {
	h := &stubHost{}
	class := Class{
		New: func() Component { return &widgetComponent{} },
		CreateHost: func(ctx context.Context, props map[string]any) (host.Host, error) {
			return h, nil
		},
	}

	app := Mount(context.Background(), class, Props{"title": "hello"})
	<-app.WhenReady()

	require.NoError(t, app.FlushUntilIdle(50))

	widget := app.Root().(*widgetComponent)
	widget.Queue("greet", "hi", QueueOptions{Key: "greet"})
	require.NoError(t, app.FlushUntilIdle(50))

	greets, msg := widget.snapshot()
	assert.Equal(t, 1, greets)
	assert.Equal(t, "hi", msg)

	stats := app.Stats()
	assert.Positive(t, stats.Frames)

	app.Unmount()
	h.mu.Lock()
	torndown := h.torndown
	h.mu.Unlock()
	assert.True(t, torndown)
}

func TestAppMountWithoutHost(t *testing.T) {
	class := Class{New: func() Component { return &widgetComponent{} }}

	app := Mount(context.Background(), class, Props{})
	require.NoError(t, app.FlushUntilIdle(10))

	widget := app.Root().(*widgetComponent)
	widget.Queue("greet", "hola", QueueOptions{Key: "greet"})
	require.NoError(t, app.FlushUntilIdle(10))

	greets, msg := widget.snapshot()
	assert.Equal(t, 1, greets)
	assert.Equal(t, "hola", msg)
}
