package model

// A Form groups the media uploaded for one submission.
type Form struct {
	Base `json:",inline" storm:"inline"`

	Title       string `json:"title"`
	Description string `json:"description"`
}
