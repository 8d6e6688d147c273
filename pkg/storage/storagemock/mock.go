package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/raterudder/solarkbridge/pkg/storage"
	"github.com/raterudder/solarkbridge/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetEnergyCounters(ctx context.Context, plantID string) (types.EnergyCounters, error) {
	args := m.Called(ctx, plantID)
	return args.Get(0).(types.EnergyCounters), args.Error(1)
}

func (m *MockDatabase) SetEnergyCounters(ctx context.Context, counters types.EnergyCounters) error {
	args := m.Called(ctx, counters)
	return args.Error(0)
}

func (m *MockDatabase) GetEnergyHistory(ctx context.Context, plantID string, start, end time.Time) ([]types.EnergyCounters, error) {
	args := m.Called(ctx, plantID, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.EnergyCounters), args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
