package models

// ReadingWorkflowInput is the payload of the async reading workflow
type ReadingWorkflowInput struct {
	Request GenerationRequest `json:"request"`
}

// ReadingWorkflowOutput is the result of the async reading workflow
type ReadingWorkflowOutput struct {
	RequesterID string      `json:"requester_id"`
	Disposition Disposition `json:"disposition"`
	// Error carries the caller-facing failure text for quota and unavailability rejections
	Error string `json:"error,omitempty"`
}
