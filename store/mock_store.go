package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dentaldesk/dentaldesk/core"
)

// MockStore is an in-memory core.Store for tests. It mirrors SQLiteStore
// semantics, including ErrNotFound and no-op double close, without touching
// disk.
type MockStore struct {
	mu sync.Mutex

	patients      map[int64]*core.Patient
	dentists      map[int64]*core.Dentist
	conversations map[int64]*core.Conversation
	appointments  map[int64]*core.Appointment
	messages      map[int64][]core.Message

	nextPatientID      int64
	nextDentistID      int64
	nextConversationID int64
	nextAppointmentID  int64
	nextMessageID      int64
}

var _ core.Store = (*MockStore)(nil)

// NewMockStore creates an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		patients:      make(map[int64]*core.Patient),
		dentists:      make(map[int64]*core.Dentist),
		conversations: make(map[int64]*core.Conversation),
		appointments:  make(map[int64]*core.Appointment),
		messages:      make(map[int64][]core.Message),
	}
}

// SeedDentist inserts a dentist directly, for test fixtures.
func (s *MockStore) SeedDentist(d core.Dentist) *core.Dentist {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextDentistID++
	d.ID = s.nextDentistID
	s.dentists[d.ID] = &d
	return &d
}

func (s *MockStore) CreatePatient(_ context.Context, p *core.Patient) (*core.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPatientID++
	created := *p
	created.ID = s.nextPatientID
	s.patients[created.ID] = &created
	out := created
	return &out, nil
}

func (s *MockStore) GetPatient(_ context.Context, id int64) (*core.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (s *MockStore) GetPatientByPhone(_ context.Context, phone string) (*core.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.patients {
		if p.PhoneNumber == phone {
			out := *p
			return &out, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *MockStore) UpdatePatient(_ context.Context, p *core.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.patients[p.ID]
	if !ok {
		return core.ErrNotFound
	}
	existing.Name = p.Name
	existing.Age = p.Age
	existing.Gender = p.Gender
	return nil
}

func (s *MockStore) CreateConversation(_ context.Context, patientID int64) (*core.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextConversationID++
	c := &core.Conversation{
		ID:        s.nextConversationID,
		PatientID: patientID,
		Status:    core.ConversationOpen,
		StartedAt: time.Now().UTC(),
	}
	s.conversations[c.ID] = c
	out := *c
	return &out, nil
}

func (s *MockStore) GetConversation(_ context.Context, id int64) (*core.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (s *MockStore) GetOpenConversation(_ context.Context, patientID int64) (*core.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *core.Conversation
	for _, c := range s.conversations {
		if c.PatientID == patientID && c.Status == core.ConversationOpen {
			if latest == nil || c.ID > latest.ID {
				latest = c
			}
		}
	}
	if latest == nil {
		return nil, core.ErrNotFound
	}
	out := *latest
	return &out, nil
}

func (s *MockStore) CloseConversation(_ context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return core.ErrNotFound
	}
	if c.Status == core.ConversationClosed {
		return nil
	}
	now := time.Now().UTC()
	c.Status = core.ConversationClosed
	c.EndedAt = &now
	c.ClosedReason = reason
	return nil
}

func (s *MockStore) AppendMessage(_ context.Context, conversationID int64, kind core.SenderKind, payload string) (*core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMessageID++
	m := core.Message{
		ID:             s.nextMessageID,
		ConversationID: conversationID,
		Sender:         kind,
		Payload:        payload,
		CreatedAt:      time.Now().UTC(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], m)
	return &m, nil
}

func (s *MockStore) ListMessages(_ context.Context, conversationID int64) ([]core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	out := make([]core.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MockStore) ListDentists(_ context.Context) ([]core.Dentist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Dentist, 0, len(s.dentists))
	for id := int64(1); id <= s.nextDentistID; id++ {
		if d, ok := s.dentists[id]; ok {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *MockStore) GetDentist(_ context.Context, id int64) (*core.Dentist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dentists[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	out := *d
	return &out, nil
}

func (s *MockStore) FindDentistByName(_ context.Context, name string) (*core.Dentist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := strings.ToLower(strings.TrimSpace(name))
	for id := int64(1); id <= s.nextDentistID; id++ {
		d, ok := s.dentists[id]
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(d.Name), needle) {
			out := *d
			return &out, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *MockStore) CreateAppointment(_ context.Context, a *core.Appointment) (*core.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAppointmentID++
	created := *a
	created.ID = s.nextAppointmentID
	if created.Status == "" {
		created.Status = core.AppointmentScheduled
	}
	created.AppointmentTime = created.AppointmentTime.UTC()
	s.appointments[created.ID] = &created
	out := created
	return &out, nil
}

func (s *MockStore) GetAppointment(_ context.Context, id int64) (*core.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	out := *a
	return &out, nil
}

func (s *MockStore) UpdateAppointmentStatus(_ context.Context, id int64, status core.AppointmentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return core.ErrNotFound
	}
	a.Status = status
	return nil
}

func (s *MockStore) RescheduleAppointment(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return core.ErrNotFound
	}
	a.AppointmentTime = at.UTC()
	a.Status = core.AppointmentRescheduled
	return nil
}

func (s *MockStore) FindScheduledAppointment(_ context.Context, dentistID int64, at time.Time) (*core.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.appointments {
		if a.DentistID == dentistID && a.AppointmentTime.Equal(at.UTC()) && isActive(a.Status) {
			out := *a
			return &out, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *MockStore) FindPatientAppointment(_ context.Context, patientID, dentistID int64, at time.Time) (*core.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.appointments {
		if a.PatientID == patientID && a.DentistID == dentistID && a.AppointmentTime.Equal(at.UTC()) && isActive(a.Status) {
			out := *a
			return &out, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *MockStore) ListPatientAppointments(_ context.Context, patientID int64) ([]core.AppointmentDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var details []core.AppointmentDetail
	for id := int64(1); id <= s.nextAppointmentID; id++ {
		a, ok := s.appointments[id]
		if !ok || a.PatientID != patientID {
			continue
		}
		detail := core.AppointmentDetail{
			AppointmentID:   a.ID,
			AppointmentTime: a.AppointmentTime,
			Status:          a.Status,
		}
		if d, ok := s.dentists[a.DentistID]; ok {
			detail.DentistName = d.Name
		}
		if p, ok := s.patients[a.PatientID]; ok {
			detail.PatientName = p.Name
		}
		details = append(details, detail)
	}
	for i := 1; i < len(details); i++ {
		for j := i; j > 0 && details[j].AppointmentTime.Before(details[j-1].AppointmentTime); j-- {
			details[j], details[j-1] = details[j-1], details[j]
		}
	}
	return details, nil
}

func isActive(status core.AppointmentStatus) bool {
	return status == core.AppointmentScheduled || status == core.AppointmentRescheduled
}
