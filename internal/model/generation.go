package model

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Bearing is the compass direction the camera faced when the photo was taken.
type Bearing string

const (
	BearingN  Bearing = "N"
	BearingNE Bearing = "NE"
	BearingE  Bearing = "E"
	BearingSE Bearing = "SE"
	BearingS  Bearing = "S"
	BearingSW Bearing = "SW"
	BearingW  Bearing = "W"
	BearingNW Bearing = "NW"
)

var bearingDirections = map[Bearing]string{
	BearingN:  "north",
	BearingNE: "northeast",
	BearingE:  "east",
	BearingSE: "southeast",
	BearingS:  "south",
	BearingSW: "southwest",
	BearingW:  "west",
	BearingNW: "northwest",
}

// Valid reports whether b is one of the eight compass points.
func (b Bearing) Valid() bool {
	_, ok := bearingDirections[b]
	return ok
}

// Direction returns the lower-case compass word for b, e.g. "northeast".
// Unknown bearings are returned lower-cased.
func (b Bearing) Direction() string {
	if d, ok := bearingDirections[b]; ok {
		return d
	}
	return strings.ToLower(string(b))
}

const (
	AddressMinLen = 5
	AddressMaxLen = 200
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// GenerationRequest carries the metadata submitted alongside the photo.
// It is validated and never persisted.
type GenerationRequest struct {
	Address string  `json:"address"`
	Date    string  `json:"date"`
	Bearing Bearing `json:"bearing"`
}

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is an itemized list of field errors.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// Validate checks every field and returns all failures, or nil.
func (r GenerationRequest) Validate() ValidationErrors {
	var errs ValidationErrors

	n := utf8.RuneCountInString(r.Address)
	switch {
	case n < AddressMinLen:
		errs = append(errs, FieldError{Field: "address", Message: "must contain at least 5 characters"})
	case n > AddressMaxLen:
		errs = append(errs, FieldError{Field: "address", Message: "must contain at most 200 characters"})
	}

	if !datePattern.MatchString(r.Date) {
		errs = append(errs, FieldError{Field: "date", Message: "must match YYYY-MM-DD"})
	}

	if !r.Bearing.Valid() {
		errs = append(errs, FieldError{Field: "bearing", Message: "must be one of N, NE, E, SE, S, SW, W, NW"})
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

var (
	ErrInvalidImage         = errors.New("please upload a valid image file")
	ErrFileTooLarge         = errors.New("file too large")
	ErrUnsupportedImageType = errors.New("only JPEG and PNG images are supported")
)

// Upload is a photo received in a single request. It lives only as long as the request.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ValidateUpload checks the declared content type and size of an uploaded photo.
// size must be known before the body is read so oversized files never reach the network.
func ValidateUpload(contentType string, size, maxBytes int64) error {
	if contentType == "" || !strings.HasPrefix(contentType, "image/") {
		return ErrInvalidImage
	}
	if size > maxBytes {
		return ErrFileTooLarge
	}
	if contentType != "image/jpeg" && contentType != "image/png" {
		return ErrUnsupportedImageType
	}
	return nil
}

// GenerationResult is returned to the caller once both images are stored.
type GenerationResult struct {
	Success     bool   `json:"success"`
	JobID       string `json:"jobId"`
	OriginalURL string `json:"originalUrl"`
	ResultURL   string `json:"resultUrl"`
}
