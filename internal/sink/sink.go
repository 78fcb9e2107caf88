package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

// ResultSink receives every finished opinion
type ResultSink interface {
	Persist(ctx context.Context, investigationID string, opinion models.RiskOpinion) error
}

// Multi fans an opinion out to every sink. All sinks are attempted; their
// failures are joined.
type Multi []ResultSink

func (m Multi) Persist(ctx context.Context, investigationID string, opinion models.RiskOpinion) error {
	var errs []error
	for i, s := range m {
		if s == nil {
			continue
		}
		if err := s.Persist(ctx, investigationID, opinion); err != nil {
			errs = append(errs, fmt.Errorf("sink %d (%T): %w", i, s, err))
		}
	}
	return errors.Join(errs...)
}
