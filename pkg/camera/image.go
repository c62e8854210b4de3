package camera

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"os/exec"
	"strconv"

	"github.com/MrCodeEU/rollcall/pkg/logging"
	"golang.org/x/image/draw"
)

// Downscale resizes a JPEG by scale (0 < scale < 1) and re-encodes it.
// Any other scale returns data unchanged.
func Downscale(data []byte, scale float64) ([]byte, error) {
	if scale <= 0 || scale >= 1 {
		return data, nil
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	bounds := img.Bounds()
	width := max(1, int(math.Round(float64(bounds.Dx())*scale)))
	height := max(1, int(math.Round(float64(bounds.Dy())*scale)))

	resized := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode downscaled frame: %w", err)
	}
	return buf.Bytes(), nil
}

// FrameCount asks ffprobe for the number of video frames in path.
// It returns -1 when the count is unknown.
func FrameCount(path string) int {
	log := logging.Component("camera")
	if _, err := exec.LookPath("ffprobe"); err != nil {
		log.Debug("ffprobe not found, frame count unknown")
		return -1
	}

	out, err := exec.Command("ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=nb_frames", "-of", "json", path).Output()
	if err != nil {
		log.WithError(err).Debug("ffprobe failed")
		return -1
	}
	return parseFrameCount(out)
}

func parseFrameCount(out []byte) int {
	var res struct {
		Streams []struct {
			NbFrames string `json:"nb_frames"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out, &res); err != nil || len(res.Streams) == 0 {
		return -1
	}
	count, err := strconv.Atoi(res.Streams[0].NbFrames)
	if err != nil || count <= 0 {
		return -1
	}
	return count
}
