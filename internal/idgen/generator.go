package idgen

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nrednav/cuid2"
	"github.com/oklog/ulid/v2"
	"github.com/segmentio/ksuid"
)

// Supported message id formats.
const (
	FormatULID   = "ulid"
	FormatUUID   = "uuid"
	FormatKSUID  = "ksuid"
	FormatNanoID = "nanoid"
	FormatCUID2  = "cuid2"
)

// Generator hands out message ids. Sortable formats embed the creation
// time, so their lexical order follows message order.
type Generator interface {
	New(created time.Time) (string, error)
	Format() string
}

// New returns the generator for format. An empty format means ULID.
func New(format string) (Generator, error) {
	switch format {
	case "", FormatULID:
		return &ulidGen{entropy: ulid.Monotonic(rand.Reader, 0)}, nil
	case FormatUUID:
		return uuidGen{}, nil
	case FormatKSUID:
		return ksuidGen{}, nil
	case FormatNanoID:
		return nanoidGen{}, nil
	case FormatCUID2:
		gen, err := cuid2.Init(cuid2.WithLength(cuid2Length))
		if err != nil {
			return nil, fmt.Errorf("failed to init cuid2: %w", err)
		}
		return cuid2Gen{generate: gen}, nil
	default:
		return nil, fmt.Errorf("unsupported id format: %q", format)
	}
}

// ulidGen uses monotonic entropy so ids minted in the same millisecond
// still sort in creation order. The entropy source is not goroutine safe.
type ulidGen struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func (g *ulidGen) New(created time.Time) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(created), g.entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate ulid: %w", err)
	}
	return id.String(), nil
}

func (g *ulidGen) Format() string { return FormatULID }

type uuidGen struct{}

func (uuidGen) New(time.Time) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate uuid: %w", err)
	}
	return id.String(), nil
}

func (uuidGen) Format() string { return FormatUUID }

type ksuidGen struct{}

func (ksuidGen) New(created time.Time) (string, error) {
	id, err := ksuid.NewRandomWithTime(created)
	if err != nil {
		return "", fmt.Errorf("failed to generate ksuid: %w", err)
	}
	return id.String(), nil
}

func (ksuidGen) Format() string { return FormatKSUID }

type nanoidGen struct{}

func (nanoidGen) New(time.Time) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate nanoid: %w", err)
	}
	return id, nil
}

func (nanoidGen) Format() string { return FormatNanoID }

const cuid2Length = 24

type cuid2Gen struct {
	generate func() string
}

func (g cuid2Gen) New(time.Time) (string, error) {
	return g.generate(), nil
}

func (cuid2Gen) Format() string { return FormatCUID2 }
