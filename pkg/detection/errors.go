package detection

import "errors"

// Sentinel errors for model loading and inference.
var (
	// ErrModelNotFound is returned when the weights file does not exist.
	ErrModelNotFound = errors.New("detection: model file not found")

	// ErrModelLoad is returned when the backend cannot load the weights.
	ErrModelLoad = errors.New("detection: failed to load model")

	// ErrUnknownBackend is returned for an unsupported backend name.
	ErrUnknownBackend = errors.New("detection: unknown backend")

	// ErrClosed is returned by Detect after Close.
	ErrClosed = errors.New("detection: detector closed")

	// ErrUnexpectedOutput is returned when the model output is not YOLOv8-shaped.
	ErrUnexpectedOutput = errors.New("detection: unexpected model output shape")
)
