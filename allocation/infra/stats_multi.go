package infra

import (
	"context"
	"errors"

	"seat-gateway/allocation/domain"
)

// MultiStatsStore grava em todos os stores; erros são agregados, nenhum store interrompe os outros.
type MultiStatsStore []domain.StatsStore

func (m MultiStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
