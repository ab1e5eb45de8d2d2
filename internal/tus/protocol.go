// Package tus holds the wire-level pieces of the resumable upload protocol:
// header names, the upload fingerprint and the metadata codec.
package tus

// Version is the protocol version spoken by both sides.
const Version = "1.0.0"

// Protocol headers.
const (
	HeaderResumable    = "Tus-Resumable"
	HeaderVersion      = "Tus-Version"
	HeaderExtension    = "Tus-Extension"
	HeaderUploadOffset = "Upload-Offset"
	HeaderUploadLength = "Upload-Length"
	HeaderUploadMeta   = "Upload-Metadata"
	HeaderContentType  = "Content-Type"
	ContentTypeOffset  = "application/offset+octet-stream"
)

// Metadata keys exchanged at upload creation.
const (
	MetaFormID   = "formId"
	MetaFileName = "fileName"
	MetaMimeType = "mimeType"
)
