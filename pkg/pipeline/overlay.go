package pipeline

import (
	"time"

	"github.com/MrCodeEU/rollcall/pkg/recognition"
)

// Status texts shown under a recognized face.
const (
	StatusBlink  = "BLINK NOW"
	markedSuffix = " [MARKED]"
)

// FaceOverlay describes one face drawn on the current frame.
type FaceOverlay struct {
	Box      recognition.Rectangle `json:"box"` // full-frame coordinates
	Label    string                `json:"label"`
	Name     string                `json:"name"`
	ID       string                `json:"id,omitempty"`
	Status   string                `json:"status,omitempty"`
	Verified bool                  `json:"verified"`
}

// Overlay is the display state after one frame.
type Overlay struct {
	Session   string        `json:"session"`
	Frame     int64         `json:"frame"`
	Timestamp time.Time     `json:"timestamp"`
	Faces     []FaceOverlay `json:"faces"`
}

// MarkedStatus returns the status text of a verified identity.
func MarkedStatus(uniqueID string) string {
	return uniqueID + markedSuffix
}
