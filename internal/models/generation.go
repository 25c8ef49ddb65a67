package models

import "time"

// Status represents the lifecycle state of a generation.
type Status string

// Status constants define generation lifecycle states.
const (
	// StatusPending marks a generation awaiting a worker.
	StatusPending Status = "pending"
	// StatusInProgress marks a generation claimed by a worker.
	StatusInProgress Status = "in_progress"
	// StatusCompleted marks a successfully finished generation.
	StatusCompleted Status = "completed"
	// StatusFailed marks a terminally failed generation.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// OutputFormat represents the requested image encoding.
type OutputFormat string

// OutputFormat constants define supported image encodings.
const (
	FormatPNG  OutputFormat = "png"
	FormatJPEG OutputFormat = "jpeg"
)

// Valid reports whether the format is one of the supported encodings.
func (f OutputFormat) Valid() bool {
	return f == FormatPNG || f == FormatJPEG
}

// ContentType returns the MIME type for the format.
func (f OutputFormat) ContentType() string {
	if f == FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// Ext returns the file extension for the format, without a dot.
func (f OutputFormat) Ext() string {
	return string(f)
}

// Ratio represents the requested output aspect ratio.
type Ratio string

// Ratio constants define supported aspect ratios.
const (
	Ratio1x1   Ratio = "1:1"
	Ratio16x9  Ratio = "16:9"
	Ratio9x16  Ratio = "9:16"
	Ratio4x3   Ratio = "4:3"
	Ratio3x4   Ratio = "3:4"
)

// Valid reports whether the ratio is one of the supported values.
func (r Ratio) Valid() bool {
	switch r {
	case Ratio1x1, Ratio16x9, Ratio9x16, Ratio4x3, Ratio3x4:
		return true
	}
	return false
}

// MaxPromptLength bounds the prompt column.
const MaxPromptLength = 1024

// MaxErrorMessageLength bounds the error_message column.
const MaxErrorMessageLength = 1024

// Generation records one image-generation request and its lifecycle.
type Generation struct {
	ID string `gorm:"type:uuid;primaryKey"` // Primary key (UUID).

	UserID string `gorm:"type:uuid;not null;index"` // Owning user ID.
	User   User   `gorm:"foreignKey:UserID"`        // Owning user record.

	Prompt       string       `gorm:"type:text;not null"` // Prompt text, bounded by MaxPromptLength.
	OutputFormat OutputFormat `gorm:"type:text;not null"` // Requested image encoding.
	Ratio        Ratio        `gorm:"type:text;not null"` // Requested aspect ratio.

	Status       Status `gorm:"type:text;not null;index"` // Lifecycle state.
	ErrorMessage string `gorm:"type:text"`                // Failure reason, set only on failure.

	ObjectKey   string `gorm:"type:text"` // Object storage key, set only on success.
	Filename    string `gorm:"type:text"` // Output filename, set only on success.
	Size        int64  `gorm:"not null;default:0"` // Output size in bytes.
	ContentType string `gorm:"type:text"` // Output MIME type, set only on success.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last transition timestamp.
}
