package media

import "time"

// AssetKind separates user uploads from files produced by the merge pipeline.
type AssetKind string

const (
	AssetUpload      AssetKind = "upload"
	AssetMergeOutput AssetKind = "merge_output"
)

// Metadata holds advisory audio properties. Zero values mean unknown.
type Metadata struct {
	DurationSeconds float64
	BitRate         int64
	SampleRate      int
	Codec           string
}

// Asset represents a stored audio file addressed by a stable id.
type Asset struct {
	ID           string
	Kind         AssetKind
	StorageName  string
	OriginalName string
	Size         int64
	MIMEType     string
	Metadata     Metadata
	UploaderID   string
	UploadedAt   time.Time
}

// OwnedBy reports whether the given user uploaded the asset.
func (a Asset) OwnedBy(userID string) bool {
	return userID != "" && a.UploaderID == userID
}

// StoredFile describes a file found under a storage root.
type StoredFile struct {
	Name       string
	Size       int64
	ModifiedAt time.Time
}
