package recognition

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/MrCodeEU/rollcall/pkg/logging"
)

// maxWorkerResponse bounds a single response body from the worker process.
const maxWorkerResponse = 64 * 1024 * 1024

// workerFace is one detection as encoded by the worker process.
type workerFace struct {
	Box       []int                   `json:"box"` // [top, right, bottom, left]
	Embedding []float32               `json:"embedding"`
	Landmarks map[string][][2]float64 `json:"landmarks"`
}

// workerError is the object the worker returns instead of detections on failure.
type workerError struct {
	Error string `json:"error"`
}

// WorkerOracle implements Oracle by delegating to a long-lived subprocess.
//
// Requests are written to the process stdin and responses read from file
// descriptor 3, both framed as [uint32 big-endian length][body]. The request
// body is a JPEG image; the response body is a JSON array of faces or an
// {"error": "..."} object. Keeping data off stdout means stray prints in the
// worker cannot corrupt the protocol.
type WorkerOracle struct {
	mu       sync.Mutex
	cmd      *exec.Cmd
	stderr   *bytes.Buffer
	stdin    io.WriteCloser
	dataPipe io.ReadCloser
	closed   bool

	argv    []string // respawned from after a crash
	stopped bool     // set by Close; no respawn after that
}

// NewWorkerOracle starts argv[0] with the remaining arguments as the worker process.
func NewWorkerOracle(argv []string) (*WorkerOracle, error) {
	if len(argv) == 0 {
		return nil, errors.New("worker command is empty")
	}

	o := &WorkerOracle{argv: argv}
	if err := o.spawn(); err != nil {
		return nil, err
	}
	return o, nil
}

// spawn starts a fresh worker process. Callers hold o.mu or own o exclusively.
func (o *WorkerOracle) spawn() error {
	cmd := exec.Command(o.argv[0], o.argv[1:]...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create pipe: %w", err)
	}
	// The write end appears as FD 3 in the child.
	cmd.ExtraFiles = []*os.File{w}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return fmt.Errorf("worker failed to start: %w", err)
	}

	// Only the child keeps the write end open.
	w.Close()

	logging.Component("oracle").WithField("pid", cmd.Process.Pid).Infof("Started worker: %s", strings.Join(o.argv, " "))

	o.cmd = cmd
	o.stderr = stderr
	o.stdin = stdin
	o.dataPipe = r
	o.closed = false
	return nil
}

// Detect sends one JPEG to the worker and decodes its detections. A worker
// that crashed on an earlier call is respawned first. Cancelling ctx kills
// a worker that is still busy with the request.
func (o *WorkerOracle) Detect(ctx context.Context, jpeg []byte) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		if o.stopped || len(o.argv) == 0 {
			return nil, ErrOracleClosed
		}
		logging.Component("oracle").Warn("Restarting crashed worker")
		if err := o.spawn(); err != nil {
			return nil, fmt.Errorf("worker restart failed: %w", err)
		}
	}

	stop := context.AfterFunc(ctx, o.interrupt)
	resp, err := o.communicate(jpeg)
	stop()
	if err != nil {
		o.shutdown()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("worker interrupted: %w", ctxErr)
		}
		if o.stderr != nil && o.stderr.Len() > 0 {
			return nil, fmt.Errorf("worker crashed: %w\n%s", err, o.stderr.String())
		}
		return nil, fmt.Errorf("worker crashed: %w", err)
	}

	return decodeWorkerResponse(resp)
}

// interrupt unblocks an exchange in progress. It runs without o.mu.
func (o *WorkerOracle) interrupt() {
	if o.dataPipe != nil {
		o.dataPipe.Close()
	}
	if o.cmd != nil && o.cmd.Process != nil {
		o.cmd.Process.Kill()
	}
}

// communicate performs one framed request/response exchange.
func (o *WorkerOracle) communicate(data []byte) ([]byte, error) {
	if err := binary.Write(o.stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := o.stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(o.dataPipe, header); err != nil {
		return nil, err
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxWorkerResponse {
		return nil, fmt.Errorf("response too large: %d bytes", respLen)
	}
	body := make([]byte, respLen)
	if _, err := io.ReadFull(o.dataPipe, body); err != nil {
		return nil, err
	}
	return body, nil
}

func decodeWorkerResponse(resp []byte) ([]Detection, error) {
	var faces []workerFace
	if err := json.Unmarshal(resp, &faces); err != nil {
		var werr workerError
		if json.Unmarshal(resp, &werr) == nil && werr.Error != "" {
			return nil, fmt.Errorf("worker error: %s", werr.Error)
		}
		return nil, fmt.Errorf("malformed worker response: %w", err)
	}

	detections := make([]Detection, 0, len(faces))
	for i, f := range faces {
		if len(f.Box) != 4 {
			logging.Component("oracle").Warnf("Dropping face %d: box has %d coordinates", i, len(f.Box))
			continue
		}

		var landmarks Landmarks
		if len(f.Landmarks) > 0 {
			landmarks = make(Landmarks, len(f.Landmarks))
			for name, pts := range f.Landmarks {
				contour := make([]Point, len(pts))
				for j, p := range pts {
					contour[j] = Point{X: p[0], Y: p[1]}
				}
				landmarks[name] = contour
			}
		}

		detections = append(detections, Detection{
			Box:       Rectangle{Top: f.Box[0], Right: f.Box[1], Bottom: f.Box[2], Left: f.Box[3]},
			Embedding: Embedding(f.Embedding),
			Landmarks: landmarks,
		})
	}
	return detections, nil
}

// shutdown closes the pipes and reaps the process. Callers hold o.mu.
func (o *WorkerOracle) shutdown() {
	if o.closed {
		return
	}
	o.closed = true

	if o.stdin != nil {
		o.stdin.Close()
	}
	if o.dataPipe != nil {
		o.dataPipe.Close()
	}
	if o.cmd != nil {
		o.cmd.Wait()
	}
}

// Close stops the worker process.
func (o *WorkerOracle) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stopped = true
	o.shutdown()
	return nil
}
