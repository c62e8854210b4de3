package recognition

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/MrCodeEU/rollcall/pkg/config"
)

// MockCloser wraps a bytes.Buffer so in-memory buffers can stand in for OS pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func frame(body []byte) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(len(body)))
	buf.Write(body)
	return buf.Bytes()
}

func newMockWorker(response []byte) (*WorkerOracle, *MockCloser) {
	stdin := &MockCloser{Buffer: new(bytes.Buffer)}
	data := &MockCloser{Buffer: bytes.NewBuffer(frame(response))}
	return &WorkerOracle{stdin: stdin, dataPipe: data}, stdin
}

func TestWorkerOracle_Detect(t *testing.T) {
	response := `[{
		"box": [10, 60, 70, 5],
		"embedding": [0.5, -0.25, 0.125],
		"landmarks": {
			"left_eye": [[0,0],[1,-1],[2,-1],[3,0],[2,1],[1,1]],
			"right_eye": [[5,0],[6,-1],[7,-1],[8,0],[7,1],[6,1]]
		}
	}]`
	oracle, stdin := newMockWorker([]byte(response))

	jpeg := []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9}
	detections, err := oracle.Detect(context.Background(), jpeg)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	// The request must be framed as [len][jpeg].
	if !bytes.Equal(stdin.Bytes(), frame(jpeg)) {
		t.Errorf("unexpected request bytes %X", stdin.Bytes())
	}

	if len(detections) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(detections))
	}
	d := detections[0]
	if d.Box != (Rectangle{Top: 10, Right: 60, Bottom: 70, Left: 5}) {
		t.Errorf("unexpected box %+v", d.Box)
	}
	if len(d.Embedding) != 3 || d.Embedding[0] != 0.5 {
		t.Errorf("unexpected embedding %v", d.Embedding)
	}
	if len(d.Landmarks[LeftEye]) != 6 || d.Landmarks[RightEye][3] != (Point{X: 8, Y: 0}) {
		t.Errorf("unexpected landmarks %+v", d.Landmarks)
	}
}

func TestWorkerOracle_EmptyResult(t *testing.T) {
	oracle, _ := newMockWorker([]byte(`[]`))

	detections, err := oracle.Detect(context.Background(), []byte{0xFF})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(detections) != 0 {
		t.Errorf("expected no detections, got %d", len(detections))
	}
}

func TestWorkerOracle_MissingLandmarks(t *testing.T) {
	oracle, _ := newMockWorker([]byte(`[{"box":[1,2,3,4],"embedding":[0.1]}]`))

	detections, err := oracle.Detect(context.Background(), []byte{0xFF})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(detections) != 1 || detections[0].Landmarks != nil {
		t.Errorf("expected one detection without landmarks, got %+v", detections)
	}
}

func TestWorkerOracle_DropsMalformedBox(t *testing.T) {
	oracle, _ := newMockWorker([]byte(`[{"box":[1,2],"embedding":[0.1]},{"box":[1,2,3,4],"embedding":[0.2]}]`))

	detections, err := oracle.Detect(context.Background(), []byte{0xFF})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(detections) != 1 || detections[0].Embedding[0] != 0.2 {
		t.Errorf("expected only the well-formed face, got %+v", detections)
	}
}

func TestWorkerOracle_ErrorObject(t *testing.T) {
	oracle, _ := newMockWorker([]byte(`{"error": "cannot decode image"}`))

	_, err := oracle.Detect(context.Background(), []byte{0xFF})
	if err == nil || !strings.Contains(err.Error(), "cannot decode image") {
		t.Errorf("expected worker error to surface, got %v", err)
	}

	// A logic error keeps the worker usable.
	if oracle.closed {
		t.Error("worker should stay open after a logic error")
	}
}

func TestWorkerOracle_Garbage(t *testing.T) {
	oracle, _ := newMockWorker([]byte(`not json`))

	_, err := oracle.Detect(context.Background(), []byte{0xFF})
	if err == nil || !strings.Contains(err.Error(), "malformed") {
		t.Errorf("expected malformed response error, got %v", err)
	}
}

func TestWorkerOracle_Crash(t *testing.T) {
	stdin := &MockCloser{Buffer: new(bytes.Buffer)}
	// Truncated header: the worker died mid-response.
	data := &MockCloser{Buffer: bytes.NewBuffer([]byte{0x00, 0x00})}
	oracle := &WorkerOracle{stdin: stdin, dataPipe: data, stderr: bytes.NewBufferString("ModuleNotFoundError: face_recognition")}

	_, err := oracle.Detect(context.Background(), []byte{0xFF})
	if err == nil {
		t.Fatal("expected error for truncated response")
	}
	if !strings.Contains(err.Error(), "ModuleNotFoundError") {
		t.Errorf("expected captured stderr in error, got %v", err)
	}

	if _, err := oracle.Detect(context.Background(), []byte{0xFF}); !errors.Is(err, ErrOracleClosed) {
		t.Errorf("expected ErrOracleClosed after crash, got %v", err)
	}
}

func TestWorkerOracle_HungWorkerInterrupted(t *testing.T) {
	// The response pipe is never written: the worker hangs.
	pr, pw := io.Pipe()
	defer pw.Close()
	oracle := &WorkerOracle{stdin: &MockCloser{Buffer: new(bytes.Buffer)}, dataPipe: pr}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := oracle.Detect(ctx, []byte{0xFF})
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Detect did not return after its context expired")
	}
}

func TestWorkerOracle_RespawnsAfterCrash(t *testing.T) {
	oracle := &WorkerOracle{
		stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		dataPipe: &MockCloser{Buffer: new(bytes.Buffer)},
		argv:     []string{"/nonexistent/rollcall-worker"},
	}

	if _, err := oracle.Detect(context.Background(), []byte{0xFF}); err == nil {
		t.Fatal("expected crash on empty response")
	}

	// The next call tries to start a new process instead of failing closed.
	_, err := oracle.Detect(context.Background(), []byte{0xFF})
	if errors.Is(err, ErrOracleClosed) {
		t.Fatal("crashed worker with a command should be respawned")
	}
	if err == nil || !strings.Contains(err.Error(), "restart") {
		t.Errorf("expected restart error, got %v", err)
	}
}

func TestWorkerOracle_NoRespawnAfterClose(t *testing.T) {
	oracle := &WorkerOracle{
		stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		dataPipe: &MockCloser{Buffer: new(bytes.Buffer)},
		argv:     []string{"/nonexistent/rollcall-worker"},
	}
	oracle.Close()

	if _, err := oracle.Detect(context.Background(), []byte{0xFF}); !errors.Is(err, ErrOracleClosed) {
		t.Errorf("expected ErrOracleClosed after Close, got %v", err)
	}
}

func TestNewWorkerOracle_EmptyCommand(t *testing.T) {
	if _, err := NewWorkerOracle(nil); err == nil {
		t.Error("expected error for empty command")
	}
}

func TestOpenOracle_Unknown(t *testing.T) {
	_, err := OpenOracle(config.RecognitionConfig{Oracle: "onnx"})
	if !errors.Is(err, ErrUnknownOracle) {
		t.Errorf("expected ErrUnknownOracle, got %v", err)
	}
}
