package identifiers

import "github.com/google/uuid"

// Provider issues unique identifiers for persisted records.
type Provider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs a Provider that issues UUIDv7 identifiers.
func NewUUIDProvider() Provider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// Sequence returns a Provider that yields the supplied identifiers in order.
// It is intended for deterministic tests.
func Sequence(values ...string) Provider {
	return &sequenceProvider{values: values}
}

type sequenceProvider struct {
	values []string
	next   int
}

func (p *sequenceProvider) NewID() (string, error) {
	if p.next >= len(p.values) {
		return NewUUIDProvider().NewID()
	}
	value := p.values[p.next]
	p.next++
	return value, nil
}
