// File: internal/mocks/mocks.go
// Description: Shared testify mocks for the collaborator interfaces in
// api/schemas. Used across package tests; kept out of _test files so every
// package can import them.
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/formcourier/formcourier/api/schemas"
)

// -- Browser session --

// MockBrowserSession mocks schemas.BrowserSession.
type MockBrowserSession struct {
	mock.Mock
}

var _ schemas.BrowserSession = (*MockBrowserSession)(nil)

func (m *MockBrowserSession) ID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockBrowserSession) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	args := m.Called(ctx, url, timeout)
	return args.Error(0)
}

func (m *MockBrowserSession) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockBrowserSession) DOM(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockBrowserSession) Exists(ctx context.Context, selector string) (bool, error) {
	args := m.Called(ctx, selector)
	return args.Bool(0), args.Error(1)
}

func (m *MockBrowserSession) Visible(ctx context.Context, selector string) (bool, error) {
	args := m.Called(ctx, selector)
	return args.Bool(0), args.Error(1)
}

func (m *MockBrowserSession) Text(ctx context.Context, selector string) (string, error) {
	args := m.Called(ctx, selector)
	return args.String(0), args.Error(1)
}

func (m *MockBrowserSession) Type(ctx context.Context, selector, value string) error {
	args := m.Called(ctx, selector, value)
	return args.Error(0)
}

func (m *MockBrowserSession) SetChecked(ctx context.Context, selector string, checked bool) error {
	args := m.Called(ctx, selector, checked)
	return args.Error(0)
}

func (m *MockBrowserSession) Click(ctx context.Context, selector string, strategy schemas.ClickStrategy) error {
	args := m.Called(ctx, selector, strategy)
	return args.Error(0)
}

func (m *MockBrowserSession) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if b := args.Get(0); b != nil {
		return b.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBrowserSession) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// -- Session manager --

// MockSessionManager mocks schemas.SessionManager.
type MockSessionManager struct {
	mock.Mock
}

var _ schemas.SessionManager = (*MockSessionManager)(nil)

func (m *MockSessionManager) OpenSession(ctx context.Context) (schemas.BrowserSession, error) {
	args := m.Called(ctx)
	if s := args.Get(0); s != nil {
		return s.(schemas.BrowserSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionManager) Shutdown(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// -- Record store --

// MockRecordStore mocks schemas.RecordStore.
type MockRecordStore struct {
	mock.Mock
}

var _ schemas.RecordStore = (*MockRecordStore)(nil)

func (m *MockRecordStore) NextTargets(ctx context.Context, limit int) ([]schemas.Target, error) {
	args := m.Called(ctx, limit)
	if t := args.Get(0); t != nil {
		return t.([]schemas.Target), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRecordStore) RecordOutcome(ctx context.Context, targetID string, outcome schemas.SubmissionOutcome, meta schemas.AttemptMetadata) error {
	args := m.Called(ctx, targetID, outcome, meta)
	return args.Error(0)
}

// -- Event sink --

// RecordingEventSink collects published events in order. Safe for
// concurrent publishers.
type RecordingEventSink struct {
	mu     sync.Mutex
	events []schemas.Event
}

var _ schemas.EventSink = (*RecordingEventSink)(nil)

func (s *RecordingEventSink) Publish(ev schemas.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// Events returns a copy of everything published so far.
func (s *RecordingEventSink) Events() []schemas.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schemas.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Kinds returns just the event kinds, in publish order.
func (s *RecordingEventSink) Kinds() []schemas.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]schemas.EventKind, 0, len(s.events))
	for _, ev := range s.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

// -- Screenshot sink --

// MockScreenshotSink mocks schemas.ScreenshotSink.
type MockScreenshotSink struct {
	mock.Mock
}

var _ schemas.ScreenshotSink = (*MockScreenshotSink)(nil)

func (m *MockScreenshotSink) Store(ctx context.Context, targetID string, png []byte) (string, error) {
	args := m.Called(ctx, targetID, png)
	return args.String(0), args.Error(1)
}
