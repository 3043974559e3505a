package mocks

import (
	"context"

	"goldenhour/internal/generator"

	"github.com/stretchr/testify/mock"
)

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, in generator.Input) (*generator.Response, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*generator.Response), args.Error(1)
}
