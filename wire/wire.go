// Package wire holds the JSON request and response types of the tally node
// API. Field names are part of the protocol and must not change.
package wire

// Routes served by every node.
const (
	PathRegisterLocalFile = "/register_local_file"
	PathRegisterFile      = "/register_file"
	PathGetWork           = "/get_work"
	PathSubmitWork        = "/submit_work"
	PathUpdateResult      = "/update_result"
	PathTotal             = "/total"
	PathPing              = "/ping"
	PathRegisterPeer      = "/register_peer"
	PathMetrics           = "/metrics"
)

// Status values used in responses.
const (
	StatusProcessing        = "processing"
	StatusSourceUnavailable = "source_unavailable"
	StatusNoWork            = "no_work"
	StatusAccepted          = "accepted"
	StatusDuplicate         = "duplicate"
	StatusUpdated           = "updated"
	StatusRegistered        = "registered"
	StatusInvalid           = "invalid"
)

// RegisterLocalFileRequest registers a file on the node's filesystem.
type RegisterLocalFileRequest struct {
	Path string `json:"path"`
}

// RegisterFileRequest registers a remote file by URL.
type RegisterFileRequest struct {
	URL string `json:"url"`
}

// RegisterFileResponse is returned by both file registration routes.
type RegisterFileResponse struct {
	Status string `json:"status"`
	FileID string `json:"file_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// WorkResponse is returned by PathGetWork. When there is no work, the node
// responds with a StatusResponse holding StatusNoWork instead, which decodes
// into a WorkResponse with only Status set.
type WorkResponse struct {
	Status  string `json:"status,omitempty"`
	ChunkID string `json:"chunk_id"`
	FileID  string `json:"file_id"`
	FileURL string `json:"file_url"`
	Range   string `json:"range"`
	Offset  int64  `json:"offset"`
	Length  int    `json:"length"`
}

// ResultRequest carries a computed value for a chunk. It is used for both
// PathSubmitWork and PathUpdateResult.
type ResultRequest struct {
	ChunkID string `json:"chunk_id"`
	Count   *int64 `json:"count"`
}

// StatusResponse is a response that only carries a status.
type StatusResponse struct {
	Status string `json:"status"`
}

// TotalResponse is returned by PathTotal.
type TotalResponse struct {
	Total int64 `json:"total"`
}

// RegisterPeerRequest asks a node to add a peer.
type RegisterPeerRequest struct {
	URL string `json:"url"`
}
