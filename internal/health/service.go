package health

import (
	"context"

	"unitmon/internal/systemd"
)

// ErrorSource lists the distinct error blocks logged by a unit since its
// current activation. Implemented by cache.Cache.
type ErrorSource interface {
	ErrorsSince(ctx context.Context, service string) ([]string, error)
}

// Service computes health records on demand. The error cache is consulted
// only for units in active/running; every other state is decided from the
// unit status alone.
type Service struct {
	units  systemd.StatusReader
	errors ErrorSource
}

func NewService(units systemd.StatusReader, errors ErrorSource) *Service {
	return &Service{units: units, errors: errors}
}

// Status resolves the unit's health. Unregistered units surface as an
// error wrapping systemd.ErrNotFound so callers can reject them before
// any classification happens.
func (s *Service) Status(ctx context.Context, unit string) (Record, error) {
	st, err := s.units.UnitStatus(ctx, unit)
	if err != nil {
		return Record{}, err
	}
	count := 0
	if st.ActiveState == "active" && st.SubState == "running" {
		blocks, err := s.errors.ErrorsSince(ctx, unit)
		if err != nil {
			return Record{}, err
		}
		count = len(blocks)
	}
	return Classify(st, count), nil
}
