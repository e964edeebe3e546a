package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wudi/ocrserve/pipeline"
)

func TestTaskCompleteOpensGateOnce(t *testing.T) {
	task := newTestTask("a")
	task.complete(Output{Result: pipeline.Result{Text: "first"}, Success: true}, nil)
	task.complete(Output{Result: pipeline.Result{Text: "second"}}, errors.New("late"))

	out, err := task.Wait()
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if out.Text != "first" || !out.Success {
		t.Fatalf("Wait() = %+v, want the first completion", out)
	}
}

func TestTaskWaitUnblocksOnCallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	task := NewTask(ctx, "abandoned", 1, 7, nil)

	done := make(chan error, 1)
	go func() {
		_, err := task.Wait()
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Wait() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not unblock on context cancellation")
	}

	// A late completion is absorbed without panicking.
	task.complete(Output{}, nil)
}

func TestTaskSnapshotsRequest(t *testing.T) {
	img := []byte{0x89, 0x50, 0x4e, 0x47}
	task := NewTask(context.Background(), "scan.png", 3, 11, img)

	if task.Filename != "scan.png" || task.BatchID != 3 || task.ImageID != 11 {
		t.Fatalf("task fields = %q/%d/%d, want scan.png/3/11", task.Filename, task.BatchID, task.ImageID)
	}
	if string(task.Image) != string(img) {
		t.Fatal("task image bytes differ from the request")
	}
	if task.ID.String() == NewTask(context.Background(), "scan.png", 3, 11, img).ID.String() {
		t.Fatal("two tasks share an ID")
	}
}

func TestTaskContextDefaultsToBackground(t *testing.T) {
	task := &Task{done: make(chan struct{})}
	if task.Context() == nil {
		t.Fatal("Context() returned nil")
	}
	if err := task.Context().Err(); err != nil {
		t.Fatalf("Context().Err() = %v, want nil", err)
	}
}
