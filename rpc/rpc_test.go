package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/ocrserve/dispatch"
	"github.com/wudi/ocrserve/ocr"
	"github.com/wudi/ocrserve/pipeline"
)

type runnerFunc func(ctx context.Context, image []byte) pipeline.Result

func (f runnerFunc) Run(ctx context.Context, image []byte) pipeline.Result {
	return f(ctx, image)
}

// scriptedEngine satisfies ocr.Engine with canned recognition output, letting
// the real pipeline run end to end without a native OCR installation.
type scriptedEngine struct {
	texts map[ocr.Mode]string
}

func (e scriptedEngine) Name() string { return "scripted" }

func (e scriptedEngine) NewClient() (ocr.Client, error) {
	return &scriptedClient{texts: e.texts}, nil
}

type scriptedClient struct {
	texts map[ocr.Mode]string
	mode  ocr.Mode
}

func (c *scriptedClient) SetImage([]byte) error       { return nil }
func (c *scriptedClient) SetMode(mode ocr.Mode) error { c.mode = mode; return nil }
func (c *scriptedClient) Text() (string, error)       { return c.texts[c.mode], nil }
func (c *scriptedClient) Close() error                { return nil }

type testServer struct {
	client *Client
	pool   *dispatch.Pool
	srv    *httptest.Server
}

func newTestServer(t *testing.T, runner dispatch.Runner, workers, depth int, maxBytes int64) *testServer {
	t.Helper()
	queue := dispatch.NewQueue(depth)
	pool := dispatch.NewPool(queue, workers, runner, nil)
	pool.Start()

	disp := NewDispatcher(pool, maxBytes, nil, nil)
	srv := httptest.NewServer(NewRouter(NewService(disp, nil), pool, 0))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})
	return &testServer{client: NewClient(srv.Client(), srv.URL), pool: pool, srv: srv}
}

func whitePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestProcessImageEndToEnd(t *testing.T) {
	eng := scriptedEngine{texts: map[ocr.Mode]string{ocr.ModeSingleBlock: "TOTAL: $1,944.10\n"}}
	ts := newTestServer(t, pipeline.New(eng, nil), 2, 16, 0)

	resp, err := ts.client.ProcessImage(context.Background(), &ImageRequest{
		Filename:  "invoice.png",
		ImageData: whitePNG(t, 600, 300),
		BatchID:   1,
		ImageID:   7,
	})
	require.NoError(t, err)

	assert.Equal(t, int32(7), resp.ImageID)
	assert.Equal(t, "invoice.png", resp.Filename)
	assert.Equal(t, "TOTAL: $1,944.10", resp.ExtractedText)
	assert.True(t, resp.Success)
	assert.Greater(t, resp.ProcessingTimeMS, 0.0)

	processed, err := png.Decode(bytes.NewReader(resp.ProcessedImage))
	require.NoError(t, err, "processed image must round-trip as PNG")
	assert.Equal(t, 600, processed.Bounds().Dx())
	assert.Equal(t, 300, processed.Bounds().Dy())
}

func TestProcessImageCorruptBytes(t *testing.T) {
	eng := scriptedEngine{texts: map[ocr.Mode]string{}}
	ts := newTestServer(t, pipeline.New(eng, nil), 1, 4, 0)

	resp, err := ts.client.ProcessImage(context.Background(), &ImageRequest{
		Filename:  "junk.bin",
		ImageData: []byte("these bytes are not an image"),
		ImageID:   1,
	})
	require.NoError(t, err, "pipeline degradation must not surface as a transport error")

	assert.Equal(t, pipeline.TextDecodeFailed, resp.ExtractedText)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.ProcessedImage)
}

func TestProcessImageValidation(t *testing.T) {
	ts := newTestServer(t, runnerFunc(func(context.Context, []byte) pipeline.Result {
		return pipeline.Result{Text: "never reached"}
	}), 1, 4, 8)

	cases := []struct {
		name string
		req  *ImageRequest
	}{
		{"empty image data", &ImageRequest{Filename: "empty.png"}},
		{"oversized image data", &ImageRequest{Filename: "big.png", ImageData: bytes.Repeat([]byte{0xff}, 9)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ts.client.ProcessImage(context.Background(), tc.req)
			require.Error(t, err)
			assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
		})
	}
}

func TestProcessImageConcurrentCallers(t *testing.T) {
	ts := newTestServer(t, runnerFunc(func(_ context.Context, image []byte) pipeline.Result {
		return pipeline.Result{Text: string(image), ElapsedMS: 0.5}
	}), 4, 32, 0)

	const callers = 10
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := fmt.Sprintf("img-%d", i)
			resp, err := ts.client.ProcessImage(context.Background(), &ImageRequest{
				Filename:  payload + ".png",
				ImageData: []byte(payload),
				BatchID:   1,
				ImageID:   int32(i),
			})
			if err != nil {
				errs <- fmt.Errorf("caller %d: %w", i, err)
				return
			}
			if resp.ImageID != int32(i) {
				errs <- fmt.Errorf("caller %d got image_id %d", i, resp.ImageID)
				return
			}
			if resp.ExtractedText != payload {
				errs <- fmt.Errorf("caller %d got text %q, want %q", i, resp.ExtractedText, payload)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	assert.EqualValues(t, callers, ts.pool.Stats().Completed)
}

func TestProcessImageQueueFullRejects(t *testing.T) {
	var once, releaseOnce sync.Once
	started := make(chan struct{})
	release := make(chan struct{})
	releaseAll := func() { releaseOnce.Do(func() { close(release) }) }
	ts := newTestServer(t, runnerFunc(func(_ context.Context, image []byte) pipeline.Result {
		once.Do(func() { close(started) })
		<-release
		return pipeline.Result{Text: string(image)}
	}), 1, 1, 0)
	t.Cleanup(releaseAll)

	var wg sync.WaitGroup
	inflight := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ts.client.ProcessImage(context.Background(), &ImageRequest{
				Filename:  fmt.Sprintf("slow-%d.png", i),
				ImageData: []byte("slow"),
				ImageID:   int32(i),
			})
			inflight <- err
		}(i)
		if i == 0 {
			<-started
		}
	}

	// One task is claimed, one is queued; the queue of depth 1 is full.
	require.Eventually(t, func() bool {
		return ts.pool.Stats().QueueDepth == 1
	}, 2*time.Second, 10*time.Millisecond, "second task never reached the queue")

	_, err := ts.client.ProcessImage(context.Background(), &ImageRequest{
		Filename:  "rejected.png",
		ImageData: []byte("rejected"),
		ImageID:   99,
	})
	require.Error(t, err)
	assert.Equal(t, connect.CodeResourceExhausted, connect.CodeOf(err))
	assert.EqualValues(t, 1, ts.pool.Stats().Rejected)

	releaseAll()
	wg.Wait()
	close(inflight)
	for err := range inflight {
		assert.NoError(t, err, "in-flight calls must finish after release")
	}
}

func TestProcessImageWorkerPanicIsInternal(t *testing.T) {
	ts := newTestServer(t, runnerFunc(func(context.Context, []byte) pipeline.Result {
		panic("scanline out of range")
	}), 1, 4, 0)

	_, err := ts.client.ProcessImage(context.Background(), &ImageRequest{
		Filename:  "crash.png",
		ImageData: []byte("crash"),
	})
	require.Error(t, err)
	assert.Equal(t, connect.CodeInternal, connect.CodeOf(err))
}

func TestProcessImageAfterShutdownIsUnavailable(t *testing.T) {
	ts := newTestServer(t, runnerFunc(func(_ context.Context, image []byte) pipeline.Result {
		return pipeline.Result{Text: string(image)}
	}), 1, 4, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.pool.Shutdown(ctx))

	_, err := ts.client.ProcessImage(context.Background(), &ImageRequest{
		Filename:  "late.png",
		ImageData: []byte("late"),
	})
	require.Error(t, err)
	assert.Equal(t, connect.CodeUnavailable, connect.CodeOf(err))
}

func TestHealthAndStatsEndpoints(t *testing.T) {
	ts := newTestServer(t, runnerFunc(func(_ context.Context, image []byte) pipeline.Result {
		return pipeline.Result{Text: string(image)}
	}), 3, 8, 0)

	res, err := ts.srv.Client().Get(ts.srv.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, 200, res.StatusCode)
	var health map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])

	_, err = ts.client.ProcessImage(context.Background(), &ImageRequest{
		Filename:  "counted.png",
		ImageData: []byte("counted"),
	})
	require.NoError(t, err)

	res, err = ts.srv.Client().Get(ts.srv.URL + "/stats")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, 200, res.StatusCode)
	var stats dispatch.Stats
	require.NoError(t, json.NewDecoder(res.Body).Decode(&stats))
	assert.Equal(t, 3, stats.Workers)
	assert.Equal(t, 8, stats.QueueCapacity)
	assert.EqualValues(t, 1, stats.Enqueued)
	assert.EqualValues(t, 1, stats.Completed)
}
