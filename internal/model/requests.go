package model

// ScanRequest asks for a scan over explicit symbols, index members, or both.
// It is the body of POST /scans and of queued scan request messages.
type ScanRequest struct {
	Symbols []string   `json:"symbols" binding:"omitempty,max=10000,dive,required,max=16"`
	Indices []string   `json:"indices" binding:"omitempty,max=20,dive,required"`
	Filters FilterSpec `json:"filters"`
}

// ScanRequestMessage is a scan request carried over the message queue
type ScanRequestMessage struct {
	RequestID string `json:"request_id,omitempty"`
	ScanRequest
}

// ScanCreated is returned when a scan is accepted
type ScanCreated struct {
	ID      string    `json:"id"`
	Status  JobStatus `json:"status"`
	Started bool      `json:"started"`
}

// ScanHistory lists in-memory jobs and a page of archived ones
type ScanHistory struct {
	Recent        []JobStatusView `json:"recent"`
	Archived      []JobStatusView `json:"archived"`
	ArchivedTotal int64           `json:"archived_total"`
}

// HealthReport is the aggregated status of the service's dependencies
type HealthReport struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}
