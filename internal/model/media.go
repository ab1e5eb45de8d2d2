package model

// Media statuses.
const (
	MediaStatusUploading = "uploading"
	MediaStatusComplete  = "complete"
	MediaStatusFailed    = "failed"
)

// A Media represents one logical upload attached to a Form.
// Its ID is also the upload identifier used by the transfer protocol.
type Media struct {
	Base `json:",inline" storm:"inline"`

	FormID   string `json:"form_id" storm:"index"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Status   string `json:"status"  storm:"index"`
	URL      string `json:"url"`

	// Size is only known once declared by the client or observed at completion.
	// DeclaredSize is -1 until the client declares the total, which may be zero.
	Size         int64 `json:"size"`
	DeclaredSize int64 `json:"declared_size"`

	// Offset is the number of contiguous bytes acknowledged so far.
	// The server is authoritative for this value.
	Offset    int64 `json:"offset"`
	PartCount int   `json:"part_count"`
}

// Uploading returns true while bytes are still expected.
func (m *Media) Uploading() bool {
	return m.Status == MediaStatusUploading
}
