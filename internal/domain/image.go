package domain

import (
	"errors"
	"strings"
	"time"
)

const (
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeWebP = "image/webp"
)

// EncodedImage is a raster in its wire encoding.
type EncodedImage struct {
	Data     []byte `json:"-"`
	MimeType string `json:"mime_type"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

func (e EncodedImage) Empty() bool {
	return len(e.Data) == 0
}

// SourceImage is the validated user upload. It is replaced wholesale on
// re-upload and never mutated.
type SourceImage struct {
	EncodedImage
	UploadedAt time.Time `json:"uploaded_at"`
}

// Artifact is the accepted pixel-art image handed to the compositor and the
// commerce backend.
type Artifact struct {
	EncodedImage
	AttemptID    string    `json:"attempt_id,omitempty"`
	Mode         string    `json:"mode"`
	Provider     string    `json:"provider"`
	VariantIndex int       `json:"variant_index"`
	UserSupplied bool      `json:"user_supplied"`
	CommittedAt  time.Time `json:"committed_at"`
}

// GenerationRequest is built fresh for each attempt.
type GenerationRequest struct {
	AttemptID      string
	Source         SourceImage
	Mode           string
	ProviderID     string
	Prompt         string
	VariantIndex   int
	NegativePrompt string
	ProductType    string
	TargetSize     int
}

func (r GenerationRequest) Validate() error {
	if len(r.Source.Data) == 0 {
		return errors.New("source image is required")
	}
	if strings.TrimSpace(r.ProviderID) == "" {
		return errors.New("provider id is required")
	}
	return nil
}

type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeDiscarded Outcome = "discarded"
)

// GenerationResult is the outcome of one attempt. Artifact is set only on
// success; Err only on failure or timeout.
type GenerationResult struct {
	AttemptID    string
	Outcome      Outcome
	Artifact     *EncodedImage
	Err          *Error
	Mode         string
	Provider     string
	VariantIndex int
	Polls        int
	Duration     time.Duration
	FinishedAt   time.Time
}

func (r GenerationResult) ErrorKind() ErrorKind {
	if r.Err == nil {
		return ""
	}
	return r.Err.Kind
}
