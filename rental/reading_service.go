package rental

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/warp/rent-billing/generic"
)

// RecordReadingRequest is one meter reading. Period is "YYYY-MM" or "YYYY-MM-DD".
type RecordReadingRequest struct {
	UnitID       string        `validate:"required"`
	Period       string        `validate:"required"`
	ReadingValue generic.Money `validate:"gte=0"`
}

type ReadingService struct {
	store  TxStore
	opts   Options
	logger *zap.Logger
}

func NewReadingService(store TxStore, opts Options) *ReadingService {
	opts = opts.withDefaults()
	return &ReadingService{
		store:  store,
		opts:   opts,
		logger: opts.Logger.Named("readings"),
	}
}

// Record stores the reading. A unit has at most one reading per period key.
func (s *ReadingService) Record(ctx context.Context, scope Scope, req RecordReadingRequest) (*WaterReading, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if req.ReadingValue.IsNegative() {
		return nil, fmt.Errorf("reading %s: %w", req.ReadingValue, ErrNegativeAmount)
	}
	period, err := generic.ParseYearMonth(req.Period)
	if err != nil {
		return nil, err
	}

	var recorded *WaterReading
	err = s.store.WithTx(ctx, func(st Store) error {
		unit, err := st.GetUnit(ctx, scope, req.UnitID)
		if err != nil {
			return err
		}
		existing, err := st.GetReading(ctx, scope, unit.ID, period)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("unit %s period %s: %w", unit.ID, period, ErrDuplicateReading)
		}
		r := WaterReading{
			ID:           s.opts.NewID(),
			AccountID:    scope.AccountID,
			UnitID:       unit.ID,
			Period:       period,
			ReadingValue: req.ReadingValue,
			CreatedAt:    s.opts.Now().UTC(),
		}
		if err := st.AppendReading(ctx, r); err != nil {
			return err
		}
		recorded = &r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("water reading recorded",
		zap.String("unit_id", recorded.UnitID),
		zap.Stringer("period", recorded.Period),
		zap.Stringer("value", recorded.ReadingValue))
	return recorded, nil
}

// WaterCharge resolves the charge for a unit and period key. ok is false when
// either reading is missing.
func (s *ReadingService) WaterCharge(ctx context.Context, scope Scope, unitID string, key generic.YearMonth) (WaterCharge, bool, error) {
	unit, err := s.store.GetUnit(ctx, scope, unitID)
	if err != nil {
		return WaterCharge{}, false, err
	}
	property, err := optionalProperty(ctx, s.store, scope, unit.PropertyID)
	if err != nil {
		return WaterCharge{}, false, err
	}
	current, err := s.store.GetReading(ctx, scope, unit.ID, key)
	if err != nil {
		return WaterCharge{}, false, err
	}
	previous, err := s.store.GetReading(ctx, scope, unit.ID, key.Prev())
	if err != nil {
		return WaterCharge{}, false, err
	}
	charge, ok := ResolveWaterCharge(*unit, property, key, current, previous)
	return charge, ok, nil
}
