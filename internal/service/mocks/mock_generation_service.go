package mocks

import (
	"context"

	"goldenhour/internal/model"

	"github.com/stretchr/testify/mock"
)

type MockGenerationService struct {
	mock.Mock
}

func (m *MockGenerationService) CheckConfig() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockGenerationService) Generate(ctx context.Context, req model.GenerationRequest, up model.Upload) (*model.GenerationResult, error) {
	args := m.Called(ctx, req, up)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.GenerationResult), args.Error(1)
}

func (m *MockGenerationService) ImageURL(ctx context.Context, jobID, kind string) (string, error) {
	args := m.Called(ctx, jobID, kind)
	return args.String(0), args.Error(1)
}
