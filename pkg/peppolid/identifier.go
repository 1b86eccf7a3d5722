package peppolid

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Default identifier schemes of the Peppol Policy for use of Identifiers
const (
	SchemeParticipant  = "iso6523-actorid-upis"
	SchemeDocumentType = "busdox-docid-qns"
	SchemeDocTypeWild  = "peppol-doctype-wildcard"
	SchemeProcess      = "cenbii-procid-ubl"

	// separator between scheme and value in the URI-encoded form
	schemeSeparator = "::"

	maxDocumentTypeLength = 500
	maxProcessLength      = 200
	maxParticipantLength  = 50
)

var (
	// ErrEmptyIdentifier is returned when an identifier value is empty
	ErrEmptyIdentifier = errors.New("identifier value is empty")
	// ErrInvalidScheme is returned when the scheme is not accepted for the identifier kind
	ErrInvalidScheme = errors.New("invalid identifier scheme")
	// ErrInvalidParticipant is returned when a participant value is not <ICD>:<id>
	ErrInvalidParticipant = errors.New("invalid participant identifier value")
	// ErrValueTooLong is returned when a value exceeds the Peppol length limit
	ErrValueTooLong = errors.New("identifier value too long")
)

var participantValuePattern = regexp.MustCompile(`^[0-9]{4}:[^\s]+$`)

// Kind distinguishes the identifier types
type Kind string

const (
	KindParticipant  Kind = "participant"
	KindDocumentType Kind = "doctype"
	KindProcess      Kind = "process"
)

// Identifier is a validated scheme/value pair
type Identifier struct {
	Kind   Kind
	Scheme string
	Value  string
}

// URIEncoded returns the identifier as scheme::value
func (id Identifier) URIEncoded() string {
	return id.Scheme + schemeSeparator + id.Value
}

// String implements fmt.Stringer
func (id Identifier) String() string {
	return id.URIEncoded()
}

// IsZero reports whether the identifier is unset
func (id Identifier) IsZero() bool {
	return id.Value == ""
}

// Equal compares two identifiers. Participant values compare case-insensitively.
func (id Identifier) Equal(other Identifier) bool {
	if id.Kind != other.Kind || !strings.EqualFold(id.Scheme, other.Scheme) {
		return false
	}
	if id.Kind == KindParticipant {
		return strings.EqualFold(id.Value, other.Value)
	}
	return id.Value == other.Value
}

// Resolver creates identifiers using default schemes for bare values
type Resolver struct {
	ParticipantScheme  string
	DocumentTypeScheme string
	ProcessScheme      string
}

// DefaultResolver returns a resolver using the Peppol default schemes
func DefaultResolver() *Resolver {
	return &Resolver{
		ParticipantScheme:  SchemeParticipant,
		DocumentTypeScheme: SchemeDocumentType,
		ProcessScheme:      SchemeProcess,
	}
}

// Participant parses a participant identifier
func (r *Resolver) Participant(raw string) (Identifier, error) {
	scheme, value, err := split(raw, r.ParticipantScheme)
	if err != nil {
		return Identifier{}, fmt.Errorf("participant %q: %w", raw, err)
	}
	if scheme == "" || (!strings.EqualFold(scheme, SchemeParticipant) && !strings.EqualFold(scheme, r.ParticipantScheme)) {
		return Identifier{}, fmt.Errorf("participant %q: %w: %s", raw, ErrInvalidScheme, scheme)
	}
	if len(value) > maxParticipantLength {
		return Identifier{}, fmt.Errorf("participant %q: %w", raw, ErrValueTooLong)
	}
	if !participantValuePattern.MatchString(value) {
		return Identifier{}, fmt.Errorf("participant %q: %w", raw, ErrInvalidParticipant)
	}
	return Identifier{
		Kind:   KindParticipant,
		Scheme: strings.ToLower(scheme),
		Value:  strings.ToLower(value),
	}, nil
}

// DocumentType parses a document type identifier
func (r *Resolver) DocumentType(raw string) (Identifier, error) {
	scheme, value, err := split(raw, r.DocumentTypeScheme)
	if err != nil {
		return Identifier{}, fmt.Errorf("document type %q: %w", raw, err)
	}
	if scheme != SchemeDocumentType && scheme != SchemeDocTypeWild {
		return Identifier{}, fmt.Errorf("document type %q: %w: %s", raw, ErrInvalidScheme, scheme)
	}
	if len(value) > maxDocumentTypeLength {
		return Identifier{}, fmt.Errorf("document type %q: %w", raw, ErrValueTooLong)
	}
	return Identifier{Kind: KindDocumentType, Scheme: scheme, Value: value}, nil
}

// Process parses a process identifier
func (r *Resolver) Process(raw string) (Identifier, error) {
	scheme, value, err := split(raw, r.ProcessScheme)
	if err != nil {
		return Identifier{}, fmt.Errorf("process %q: %w", raw, err)
	}
	if scheme == "" || strings.ContainsAny(scheme, " \t") {
		return Identifier{}, fmt.Errorf("process %q: %w: %s", raw, ErrInvalidScheme, scheme)
	}
	if len(value) > maxProcessLength {
		return Identifier{}, fmt.Errorf("process %q: %w", raw, ErrValueTooLong)
	}
	return Identifier{Kind: KindProcess, Scheme: scheme, Value: value}, nil
}

// split separates "scheme::value", falling back to defaultScheme for bare values
func split(raw, defaultScheme string) (string, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", ErrEmptyIdentifier
	}
	// Schemes never contain ':', document type values often contain "::"
	scheme, value, found := strings.Cut(raw, schemeSeparator)
	if !found || strings.Contains(scheme, ":") {
		scheme, value = defaultScheme, raw
	}
	if strings.TrimSpace(value) == "" {
		return "", "", ErrEmptyIdentifier
	}
	return scheme, value, nil
}
