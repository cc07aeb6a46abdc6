// Package feed defines the provider contract for market data and the reader
// projection that turns stored records into model inputs. Providers normalize
// provider-native payloads into the canonical FeedRecord shape; everything
// downstream is provider-agnostic.
package feed

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"crunch-coordinator/internal/domain"
)

// SubjectDescriptor is a provider-native asset with its capabilities.
type SubjectDescriptor struct {
	Symbol        string
	DisplayName   string
	Kinds         []string
	Granularities []string
	Quote         string
	Base          string
	Venue         string
}

// FetchRequest is a pull-mode request used for backfill and truth windows.
// StartTs/EndTs are unix seconds; zero means unbounded on that side.
type FetchRequest struct {
	Subjects    []string
	Kind        string // "tick" or "candle"
	Granularity string
	StartTs     int64
	EndTs       int64
	Limit       int
}

// Subscription is a push-mode request.
type Subscription struct {
	Subjects    []string
	Kind        string
	Granularity string
}

// Sink receives normalized records from a listening provider.
type Sink func(record *domain.FeedRecord)

// Provider is the two-method contract every feed adapter implements, plus
// discovery. Listen blocks until ctx is cancelled; it reconnects internally
// on transport errors.
type Provider interface {
	Name() string
	ListSubjects(ctx context.Context) ([]SubjectDescriptor, error)
	Fetch(ctx context.Context, req FetchRequest) ([]*domain.FeedRecord, error)
	Listen(ctx context.Context, sub Subscription, sink Sink) error
}

// GranularityDuration parses granularities like "1s", "1m", "15m", "1h".
func GranularityDuration(g string) (time.Duration, error) {
	if len(g) < 2 {
		return 0, fmt.Errorf("invalid granularity %q", g)
	}
	n, err := strconv.Atoi(g[:len(g)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid granularity %q", g)
	}
	switch strings.ToLower(g[len(g)-1:]) {
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid granularity unit %q", g)
	}
}
