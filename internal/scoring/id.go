package scoring

import (
	"strings"

	"github.com/google/uuid"
)

// IDProvider issues identifiers for matches and entries and secrets for day tokens.
type IDProvider interface {
	NewID() (string, error)
	NewToken() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider returns an IDProvider issuing UUIDv7 identifiers and random UUIDv4 tokens.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

func (p *uuidProvider) NewToken() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(value.String(), "-", ""), nil
}
