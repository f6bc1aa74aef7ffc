package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dentaldesk/dentaldesk/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "clinic.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSeedDentists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dentists, err := s.ListDentists(ctx)
	require.NoError(t, err)
	require.Len(t, dentists, 5)
	assert.Equal(t, "Dr. Asha Rao", dentists[0].Name)
	assert.Equal(t, "Orthodontist", dentists[0].Specialization)

	// Reopening the same file must not double-seed.
	path := filepath.Join(t.TempDir(), "reseed.db")
	s2, err := NewSQLiteStore(path, nil)
	require.NoError(t, err)
	s2.Close()
	s3, err := NewSQLiteStore(path, nil)
	require.NoError(t, err)
	defer s3.Close()
	dentists, err = s3.ListDentists(ctx)
	require.NoError(t, err)
	assert.Len(t, dentists, 5)
}

func TestPatientLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreatePatient(ctx, &core.Patient{
		Name:        core.PlaceholderPatientName,
		PhoneNumber: "15551234567",
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	byPhone, err := s.GetPatientByPhone(ctx, "15551234567")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byPhone.ID)
	assert.Equal(t, core.PlaceholderPatientName, byPhone.Name)

	byPhone.Name = "Maya Iyer"
	byPhone.Age = 29
	byPhone.Gender = "Female"
	require.NoError(t, s.UpdatePatient(ctx, byPhone))

	got, err := s.GetPatient(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Maya Iyer", got.Name)
	assert.Equal(t, 29, got.Age)

	_, err = s.GetPatientByPhone(ctx, "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)

	err = s.UpdatePatient(ctx, &core.Patient{ID: 999, Name: "Ghost"})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestConversationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreatePatient(ctx, &core.Patient{Name: core.PlaceholderPatientName, PhoneNumber: "1"})
	require.NoError(t, err)

	_, err = s.GetOpenConversation(ctx, p.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	c, err := s.CreateConversation(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ConversationOpen, c.Status)

	open, err := s.GetOpenConversation(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, open.ID)

	require.NoError(t, s.CloseConversation(ctx, c.ID, core.CloseReasonTimedOut))
	closed, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ConversationClosed, closed.Status)
	assert.Equal(t, core.CloseReasonTimedOut, closed.ClosedReason)
	require.NotNil(t, closed.EndedAt)

	// Double close keeps the original reason.
	require.NoError(t, s.CloseConversation(ctx, c.ID, core.CloseReasonUserConfirmed))
	again, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CloseReasonTimedOut, again.ClosedReason)

	assert.ErrorIs(t, s.CloseConversation(ctx, 999, "x"), core.ErrNotFound)

	_, err = s.GetOpenConversation(ctx, p.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMessageLogOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreatePatient(ctx, &core.Patient{Name: "A", PhoneNumber: "2"})
	require.NoError(t, err)
	c, err := s.CreateConversation(ctx, p.ID)
	require.NoError(t, err)

	kinds := []core.SenderKind{
		core.SenderUser,
		core.SenderAgentToolRequest,
		core.SenderToolResult,
		core.SenderAgentText,
	}
	for i, k := range kinds {
		_, err := s.AppendMessage(ctx, c.ID, k, string(rune('a'+i)))
		require.NoError(t, err)
	}

	msgs, err := s.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i, k := range kinds {
		assert.Equal(t, k, msgs[i].Sender)
	}
}

func TestFindDentistByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d, err := s.FindDentistByName(ctx, "asha")
	require.NoError(t, err)
	assert.Equal(t, "Dr. Asha Rao", d.Name)

	d, err = s.FindDentistByName(ctx, "Gupta")
	require.NoError(t, err)
	assert.Equal(t, "Dr. Ramesh Gupta", d.Name)

	_, err = s.FindDentistByName(ctx, "Nobody")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAppointmentLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreatePatient(ctx, &core.Patient{Name: "Maya", PhoneNumber: "3"})
	require.NoError(t, err)
	slot := time.Date(2026, 9, 10, 10, 0, 0, 0, time.UTC)

	a, err := s.CreateAppointment(ctx, &core.Appointment{
		PatientID:       p.ID,
		DentistID:       1,
		AppointmentTime: slot,
	})
	require.NoError(t, err)
	assert.Equal(t, core.AppointmentScheduled, a.Status)

	clash, err := s.FindScheduledAppointment(ctx, 1, slot)
	require.NoError(t, err)
	assert.Equal(t, a.ID, clash.ID)

	_, err = s.FindScheduledAppointment(ctx, 1, slot.Add(time.Hour))
	assert.ErrorIs(t, err, core.ErrNotFound)

	mine, err := s.FindPatientAppointment(ctx, p.ID, 1, slot)
	require.NoError(t, err)
	assert.Equal(t, a.ID, mine.ID)

	newSlot := slot.Add(24 * time.Hour)
	require.NoError(t, s.RescheduleAppointment(ctx, a.ID, newSlot))
	got, err := s.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, core.AppointmentRescheduled, got.Status)
	assert.True(t, got.AppointmentTime.Equal(newSlot))

	// Rescheduled appointments still occupy their slot.
	clash, err = s.FindScheduledAppointment(ctx, 1, newSlot)
	require.NoError(t, err)
	assert.Equal(t, a.ID, clash.ID)

	require.NoError(t, s.UpdateAppointmentStatus(ctx, a.ID, core.AppointmentCancelled))
	_, err = s.FindScheduledAppointment(ctx, 1, newSlot)
	assert.ErrorIs(t, err, core.ErrNotFound)

	details, err := s.ListPatientAppointments(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, "Dr. Asha Rao", details[0].DentistName)
	assert.Equal(t, "Maya", details[0].PatientName)
	assert.Equal(t, core.AppointmentCancelled, details[0].Status)
}
