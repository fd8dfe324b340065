// Package mocks provides mock implementations for testing the procdoc job system.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our port interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockBroker := mocks.NewMockBroker(ctrl)
//	mockBroker.EXPECT().Enqueue(gomock.Any(), gomock.Any()).Return(nil)
package mocks

// Generate mock for Broker interface from internal/core package.
// This creates MockBroker with methods for all Broker interface methods:
// Enqueue, Consume, Remove
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=broker_mock.go github.com/procdoc/procdoc-go/internal/core Broker
