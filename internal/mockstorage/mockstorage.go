// Package mockstorage provides testify-based mocks of the external
// collaborators: the document store and the identity service. They are used
// to test the auth facade and the HTTP handlers in isolation.
package mockstorage

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/patric-chuzhbe/sessionauth/internal/identity"
)

// DocumentStoreMock mocks storage.DocumentStore.
type DocumentStoreMock struct {
	mock.Mock
}

func (m *DocumentStoreMock) SetDocument(ctx context.Context, collection, key string, body any) error {
	args := m.Called(ctx, collection, key, body)
	return args.Error(0)
}

func (m *DocumentStoreMock) GetDocument(ctx context.Context, collection, key string, dst any) (bool, error) {
	args := m.Called(ctx, collection, key, dst)
	return args.Bool(0), args.Error(1)
}

func (m *DocumentStoreMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *DocumentStoreMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// IdentityServiceMock mocks the identity service operations used by the
// auth facade, including the optional DeleteAccount.
//
// OnChange is not routed through testify: subscribers registered with it
// receive whatever is passed to Emit.
type IdentityServiceMock struct {
	mock.Mock

	mu          sync.Mutex
	subscribers []func(*identity.Identity)
}

func (m *IdentityServiceMock) CreateAccount(ctx context.Context, identifier, secret string) (*identity.Identity, error) {
	args := m.Called(ctx, identifier, secret)
	id, _ := args.Get(0).(*identity.Identity)
	return id, args.Error(1)
}

func (m *IdentityServiceMock) SignIn(ctx context.Context, identifier, secret string) (*identity.Identity, error) {
	args := m.Called(ctx, identifier, secret)
	id, _ := args.Get(0).(*identity.Identity)
	return id, args.Error(1)
}

func (m *IdentityServiceMock) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *IdentityServiceMock) DeleteAccount(ctx context.Context, identityID string) error {
	args := m.Called(ctx, identityID)
	return args.Error(0)
}

func (m *IdentityServiceMock) OnChange(callback func(*identity.Identity)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subscribers = append(m.subscribers, callback)
	index := len(m.subscribers) - 1

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.subscribers[index] = nil
	}
}

// Emit delivers id to every active OnChange subscriber.
func (m *IdentityServiceMock) Emit(id *identity.Identity) {
	m.mu.Lock()
	subscribers := append([]func(*identity.Identity){}, m.subscribers...)
	m.mu.Unlock()

	for _, callback := range subscribers {
		if callback != nil {
			callback(id)
		}
	}
}
