package pipeline

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/MrCodeEU/rollcall/pkg/attendance"
	"github.com/MrCodeEU/rollcall/pkg/camera"
	"github.com/MrCodeEU/rollcall/pkg/directory"
	"github.com/MrCodeEU/rollcall/pkg/events"
	"github.com/MrCodeEU/rollcall/pkg/recognition"
)

type MockOracle struct {
	DetectFunc func(ctx context.Context, jpeg []byte) ([]recognition.Detection, error)
	mu         sync.Mutex
	calls      int
}

func (m *MockOracle) Detect(ctx context.Context, jpeg []byte) ([]recognition.Detection, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.DetectFunc != nil {
		return m.DetectFunc(ctx, jpeg)
	}
	return nil, nil
}

func (m *MockOracle) Close() error { return nil }

func (m *MockOracle) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type MockLedger struct {
	MarkFunc    func(ctx context.Context, r directory.Record, when time.Time) (attendance.Outcome, error)
	HasFunc     func(ctx context.Context, officialName string, day time.Time) (bool, error)
	EntriesFunc func(ctx context.Context, day time.Time) ([]attendance.Entry, error)
	marks       int
}

func (m *MockLedger) Mark(ctx context.Context, r directory.Record, when time.Time) (attendance.Outcome, error) {
	m.marks++
	if m.MarkFunc != nil {
		return m.MarkFunc(ctx, r, when)
	}
	return attendance.Recorded, nil
}

func (m *MockLedger) Has(ctx context.Context, officialName string, day time.Time) (bool, error) {
	if m.HasFunc != nil {
		return m.HasFunc(ctx, officialName, day)
	}
	return false, nil
}

func (m *MockLedger) Entries(ctx context.Context, day time.Time) ([]attendance.Entry, error) {
	if m.EntriesFunc != nil {
		return m.EntriesFunc(ctx, day)
	}
	return nil, nil
}

func (m *MockLedger) Close() error { return nil }

type MockPublisher struct {
	PublishFunc func(ctx context.Context, e events.Event) error
	published   []events.Event
}

func (m *MockPublisher) Publish(ctx context.Context, e events.Event) error {
	m.published = append(m.published, e)
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, e)
	}
	return nil
}

func (m *MockPublisher) Close() error { return nil }

// sliceSource replays a fixed number of frames.
type sliceSource struct {
	n     int
	index int
}

func (s *sliceSource) Next(ctx context.Context) (camera.Frame, error) {
	if err := ctx.Err(); err != nil {
		return camera.Frame{}, err
	}
	if s.index >= s.n {
		return camera.Frame{}, io.EOF
	}
	f := camera.Frame{Data: []byte{0xFF, 0xD8, byte(s.index), 0xFF, 0xD9}, Index: int64(s.index)}
	s.index++
	return f, nil
}

func (s *sliceSource) Close() error { return nil }
