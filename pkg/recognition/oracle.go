package recognition

import (
	"errors"
	"fmt"

	"github.com/MrCodeEU/rollcall/pkg/config"
)

// ErrUnknownOracle is returned by OpenOracle for an unsupported oracle name.
var ErrUnknownOracle = errors.New("unknown detection oracle")

// OpenOracle creates the detection oracle selected by cfg.
func OpenOracle(cfg config.RecognitionConfig) (Oracle, error) {
	switch cfg.Oracle {
	case "dlib":
		return NewDlibOracle(cfg.ModelPath)
	case "worker":
		return NewWorkerOracle(cfg.WorkerCommand)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownOracle, cfg.Oracle)
	}
}
