package client

import "context"

// Request is a single prompt plus image sent to a vision model
type Request struct {
	Model  string
	Prompt string
	// Image holds the encoded image bytes (JPEG or PNG)
	Image []byte
	// JSON asks the server to constrain its output to a JSON document
	JSON bool
}

// VisionClient is implemented by the vision model backends
type VisionClient interface {
	Query(ctx context.Context, req Request) (string, error)
}
