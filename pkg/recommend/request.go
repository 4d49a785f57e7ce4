package recommend

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/elonfeng/openchain/pkg/pool"
	"github.com/elonfeng/openchain/pkg/source"
)

var (
	// ErrInvalidRequest wraps every validation failure.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrSubjectNotFound means the requested user or repository does not exist.
	ErrSubjectNotFound = errors.New("subject not found")
	// ErrInsufficientData means nothing could be recommended.
	ErrInsufficientData = pool.ErrInsufficientData
)

var validate = validator.New()

// Request asks for entities of kind Find related to the Type entity Name.
type Request struct {
	Type  string `json:"type" validate:"required,oneof=user repo"`
	Name  string `json:"name" validate:"required,max=200"`
	Find  string `json:"find" validate:"required,oneof=user repo"`
	Count int    `json:"count" validate:"min=0,max=100"`
}

// Validate checks field constraints and the owner/name shape of repository names.
func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return validateName(source.Kind(r.Type), r.Name)
}

// Pair returns the subject and find kinds.
func (r Request) Pair() source.Pair {
	return source.Pair{Subject: source.Kind(r.Type), Find: source.Kind(r.Find)}
}

// RelationshipRequest names two entities to compare.
type RelationshipRequest struct {
	Type   string `json:"type" validate:"required,oneof=user repo"`
	Name   string `json:"name" validate:"required,max=200"`
	Find   string `json:"find" validate:"required,oneof=user repo"`
	Target string `json:"target" validate:"required,max=200"`
}

// Validate checks both names.
func (r RelationshipRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err := validateName(source.Kind(r.Type), r.Name); err != nil {
		return err
	}
	return validateName(source.Kind(r.Find), r.Target)
}

// DefaultAnalyzeCount caps each neighbor group of an analysis.
const DefaultAnalyzeCount = 5

// AnalyzeRequest asks for the direct network of one user or repository.
type AnalyzeRequest struct {
	Type  string `json:"type" validate:"required,oneof=user repo"`
	Name  string `json:"name" validate:"required,max=200"`
	Count int    `json:"count" validate:"min=0,max=100"`
}

// Validate checks field constraints and the name shape.
func (r AnalyzeRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return validateName(source.Kind(r.Type), r.Name)
}

func validateName(kind source.Kind, name string) error {
	if strings.TrimSpace(name) != name || name == "" {
		return fmt.Errorf("%w: name %q has surrounding whitespace", ErrInvalidRequest, name)
	}
	switch kind {
	case source.KindRepo:
		if _, _, ok := source.SplitRepo(name); !ok {
			return fmt.Errorf("%w: repository must be owner/name, got %q", ErrInvalidRequest, name)
		}
	case source.KindUser:
		if strings.Contains(name, "/") {
			return fmt.Errorf("%w: user login cannot contain '/', got %q", ErrInvalidRequest, name)
		}
	}
	return nil
}
