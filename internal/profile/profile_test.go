package profile

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu       sync.Mutex
	doctors  map[uuid.UUID]DoctorSummary
	patients map[uuid.UUID]PatientSummary
	failGets bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		doctors:  make(map[uuid.UUID]DoctorSummary),
		patients: make(map[uuid.UUID]PatientSummary),
	}
}

func (m *memRepo) UpsertDoctor(_ context.Context, d DoctorSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.doctors[d.ID]; ok && cur.UpdatedAt.After(d.UpdatedAt) {
		return nil
	}
	m.doctors[d.ID] = d
	return nil
}

func (m *memRepo) UpsertPatient(_ context.Context, p PatientSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.patients[p.ID]; ok && cur.UpdatedAt.After(p.UpdatedAt) {
		return nil
	}
	m.patients[p.ID] = p
	return nil
}

func (m *memRepo) GetDoctor(_ context.Context, id uuid.UUID) (*DoctorSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGets {
		return nil, errors.New("connection refused")
	}
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return &d, nil
}

func (m *memRepo) GetPatient(_ context.Context, id uuid.UUID) (*PatientSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGets {
		return nil, errors.New("connection refused")
	}
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return &p, nil
}

func encode(t *testing.T, ev Event) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return b
}

func TestDirectory_PlaceholderOnMiss(t *testing.T) {
	dir := NewDirectory(newMemRepo(), zerolog.Nop())
	id := uuid.New()

	doc := dir.Doctor(context.Background(), id)
	assert.Equal(t, id, doc.ID)
	assert.Equal(t, Placeholder, doc.Name)

	p := dir.Patient(context.Background(), id)
	assert.Equal(t, Placeholder, p.Name)
}

func TestDirectory_PlaceholderOnStorageError(t *testing.T) {
	repo := newMemRepo()
	repo.failGets = true
	dir := NewDirectory(repo, zerolog.Nop())

	assert.Equal(t, Placeholder, dir.Doctor(context.Background(), uuid.New()).Name)
	assert.Equal(t, Placeholder, dir.Patient(context.Background(), uuid.New()).Name)
}

func TestConsumer_AppliesEvents(t *testing.T) {
	repo := newMemRepo()
	c := NewConsumer(repo, zerolog.Nop())
	ctx := context.Background()

	docID, patID := uuid.New(), uuid.New()
	require.NoError(t, c.Handle(ctx, encode(t, Event{Type: EventDoctorCreated, ID: docID, Name: "Dr. Grey", Specialty: "Cardiology"})))
	require.NoError(t, c.Handle(ctx, encode(t, Event{Type: EventPatientCreated, ID: patID, Name: "Ana", Email: "ana@example.com"})))

	dir := NewDirectory(repo, zerolog.Nop())
	assert.Equal(t, "Dr. Grey", dir.Doctor(ctx, docID).Name)
	assert.Equal(t, "ana@example.com", dir.Patient(ctx, patID).Email)
}

func TestConsumer_IgnoresStaleUpdate(t *testing.T) {
	repo := newMemRepo()
	c := NewConsumer(repo, zerolog.Nop())
	ctx := context.Background()
	id := uuid.New()
	now := time.Now()

	require.NoError(t, c.Handle(ctx, encode(t, Event{Type: EventPatientUpdated, ID: id, Name: "New Name", OccurredAt: now})))
	require.NoError(t, c.Handle(ctx, encode(t, Event{Type: EventPatientCreated, ID: id, Name: "Old Name", OccurredAt: now.Add(-time.Minute)})))

	p, err := repo.GetPatient(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "New Name", p.Name)
}

func TestConsumer_RejectsBadPayloads(t *testing.T) {
	c := NewConsumer(newMemRepo(), zerolog.Nop())

	assert.Error(t, c.Handle(context.Background(), []byte("{not json")))
	assert.Error(t, c.Handle(context.Background(), encode(t, Event{Type: EventDoctorCreated})))
	assert.NoError(t, c.Handle(context.Background(), encode(t, Event{Type: "clinic.created", ID: uuid.New()})))
}

func TestConsumer_RunStopsWhenChannelCloses(t *testing.T) {
	repo := newMemRepo()
	c := NewConsumer(repo, zerolog.Nop())
	id := uuid.New()

	msgs := make(chan []byte, 3)
	msgs <- []byte("garbage")
	msgs <- encode(t, Event{Type: EventDoctorUpdated, ID: id, Name: "Dr. House"})
	close(msgs)

	c.Run(context.Background(), msgs)

	d, err := repo.GetDoctor(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Dr. House", d.Name)
}
