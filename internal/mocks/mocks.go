// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/api/schemas"
)

// -- LLM Mock --

// MockLLMClient mocks schemas.LLMClient.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// ScriptedLLM returns canned responses in order, cycling when exhausted.
// Simpler than expectation plumbing for pipeline tests where many calls
// share one shape.
type ScriptedLLM struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	Calls     []schemas.GenerationRequest
	next      int
}

func (s *ScriptedLLM) Generate(_ context.Context, req schemas.GenerationRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, req)
	if s.Err != nil {
		return "", s.Err
	}
	if len(s.Responses) == 0 {
		return "", nil
	}
	resp := s.Responses[s.next%len(s.Responses)]
	s.next++
	return resp, nil
}

// -- Market Mocks --

// MockMarketReader mocks schemas.MarketReader.
type MockMarketReader struct {
	mock.Mock
}

func (m *MockMarketReader) Snapshot(ctx context.Context) (*schemas.BasketSnapshot, error) {
	args := m.Called(ctx)
	if snap := args.Get(0); snap != nil {
		return snap.(*schemas.BasketSnapshot), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMarketReader) ChangeSince(ctx context.Context, t time.Time) (map[string]float64, float64, error) {
	args := m.Called(ctx, t)
	var perToken map[string]float64
	if v := args.Get(0); v != nil {
		perToken = v.(map[string]float64)
	}
	return perToken, args.Get(1).(float64), args.Error(2)
}

// MockBasketContract mocks schemas.BasketContract.
type MockBasketContract struct {
	mock.Mock
}

func (m *MockBasketContract) ReadComposition(ctx context.Context) (map[string]float64, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.(map[string]float64), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBasketContract) SubmitRebalance(ctx context.Context, weights map[string]float64) (string, error) {
	args := m.Called(ctx, weights)
	return args.String(0), args.Error(1)
}

// -- Chain Mocks --

// MockSourceChain mocks schemas.SourceChain.
type MockSourceChain struct {
	mock.Mock
}

func (m *MockSourceChain) ExistingLock(ctx context.Context, jobID uuid.UUID) (string, bool, error) {
	args := m.Called(ctx, jobID)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockSourceChain) Lock(ctx context.Context, jobID uuid.UUID, amountRaw uint64) (string, error) {
	args := m.Called(ctx, jobID, amountRaw)
	return args.String(0), args.Error(1)
}

func (m *MockSourceChain) ConfirmLock(ctx context.Context, txRef string) (string, error) {
	args := m.Called(ctx, txRef)
	return args.String(0), args.Error(1)
}

func (m *MockSourceChain) Congestion(ctx context.Context) (float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}

// MockAttestor mocks schemas.Attestor.
type MockAttestor struct {
	mock.Mock
}

func (m *MockAttestor) Attestation(ctx context.Context, messageHash string) (string, bool, error) {
	args := m.Called(ctx, messageHash)
	return args.String(0), args.Bool(1), args.Error(2)
}

// MockDestChain mocks schemas.DestChain.
type MockDestChain struct {
	mock.Mock
}

func (m *MockDestChain) ExistingMint(ctx context.Context, messageHash string) (string, bool, error) {
	args := m.Called(ctx, messageHash)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockDestChain) Mint(ctx context.Context, messageHash, attestation string) (string, error) {
	args := m.Called(ctx, messageHash, attestation)
	return args.String(0), args.Error(1)
}

func (m *MockDestChain) DepositReward(ctx context.Context, amountRaw uint64) (string, error) {
	args := m.Called(ctx, amountRaw)
	return args.String(0), args.Error(1)
}

// -- Notifier Mock --

// RecordingNotifier captures alerts for assertion.
type RecordingNotifier struct {
	mu     sync.Mutex
	Alerts []RecordedAlert
}

type RecordedAlert struct {
	Severity schemas.AlertSeverity
	Message  string
}

func (r *RecordingNotifier) Alert(severity schemas.AlertSeverity, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Alerts = append(r.Alerts, RecordedAlert{Severity: severity, Message: message})
}

func (r *RecordingNotifier) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Alerts)
}

// -- Job Store Mock --

// MemoryJobStore is an in-memory bridge job store used to test the
// settlement controller without a database.
type MemoryJobStore struct {
	mu     sync.Mutex
	Jobs   map[uuid.UUID]*schemas.BridgeJob
	Events []schemas.BridgeEvent
	// FailUpdates makes every UpdateJob call fail, for persistence-error paths.
	FailUpdates error
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{Jobs: make(map[uuid.UUID]*schemas.BridgeJob)}
}

func (s *MemoryJobStore) CreateJob(_ context.Context, job *schemas.BridgeJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *job
	s.Jobs[job.ID] = &clone
	s.Events = append(s.Events, schemas.BridgeEvent{JobID: job.ID, State: job.State, Detail: "created", CreatedAt: time.Now()})
	return nil
}

func (s *MemoryJobStore) UpdateJob(_ context.Context, job *schemas.BridgeJob, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpdates != nil {
		return s.FailUpdates
	}
	clone := *job
	s.Jobs[job.ID] = &clone
	s.Events = append(s.Events, schemas.BridgeEvent{JobID: job.ID, State: job.State, Detail: detail, CreatedAt: time.Now()})
	return nil
}

func (s *MemoryJobStore) PendingJobs(context.Context) ([]*schemas.BridgeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*schemas.BridgeJob
	for _, job := range s.Jobs {
		if !job.State.Terminal() {
			clone := *job
			out = append(out, &clone)
		}
	}
	return out, nil
}

// StatesSeen returns the ordered state sequence recorded for one job.
func (s *MemoryJobStore) StatesSeen(jobID uuid.UUID) []schemas.BridgeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	var states []schemas.BridgeState
	for _, e := range s.Events {
		if e.JobID == jobID {
			states = append(states, e.State)
		}
	}
	return states
}
