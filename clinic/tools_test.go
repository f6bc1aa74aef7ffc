package clinic

import (
	"context"
	"testing"
	"time"

	"github.com/dentaldesk/dentaldesk/core"
	"github.com/dentaldesk/dentaldesk/store"
	"github.com/dentaldesk/dentaldesk/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *store.MockStore
	registry *tool.Registry
	patient  *core.Patient
	convID   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	s := store.NewMockStore()
	s.SeedDentist(core.Dentist{Name: "Dr. Asha Rao", Specialization: "Orthodontist", LanguagesSpoken: "English, Hindi", AvailabilitySchedule: "Mon-Fri 10:00-17:00"})
	s.SeedDentist(core.Dentist{Name: "Dr. Ramesh Gupta", Specialization: "Endodontist", LanguagesSpoken: "English, Hindi", AvailabilitySchedule: "Tue-Sat 11:00-18:00"})

	patient, err := s.CreatePatient(ctx, &core.Patient{Name: core.PlaceholderPatientName, PhoneNumber: "15550001111"})
	require.NoError(t, err)
	conv, err := s.CreateConversation(ctx, patient.ID)
	require.NoError(t, err)

	fixedNow := func() time.Time { return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC) }
	return &fixture{
		store:    s,
		registry: tool.NewRegistry(Toolset(s, fixedNow)...),
		patient:  patient,
		convID:   conv.ID,
	}
}

func (f *fixture) call(t *testing.T, name string, args map[string]any) (any, error) {
	t.Helper()
	tc := core.NewToolContext(context.Background(), "call-1", f.convID, f.patient, nil)
	tl, ok := f.registry.Get(name)
	require.True(t, ok, "tool %s not registered", name)
	return tl.Call(tc, args)
}

func TestToolsetRegistersAllTools(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{
		"get_current_time",
		"list_dentists",
		"get_dentist_profile",
		"get_availability",
		"update_patient_profile",
		"upcoming_appointments",
		"book_appointment",
		"cancel_appointment",
		"reschedule_appointment",
		"close_conversation",
	}, f.registry.Names())
}

func TestGetCurrentTime(t *testing.T) {
	f := newFixture(t)
	result, err := f.call(t, "get_current_time", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "2026-09-01T12:00:00Z", result)
}

func TestListDentists(t *testing.T) {
	f := newFixture(t)

	result, err := f.call(t, "list_dentists", map[string]any{})
	require.NoError(t, err)
	assert.Len(t, result.([]core.Dentist), 2)

	result, err = f.call(t, "list_dentists", map[string]any{"specialization": "ortho"})
	require.NoError(t, err)
	filtered := result.([]core.Dentist)
	require.Len(t, filtered, 1)
	assert.Equal(t, "Dr. Asha Rao", filtered[0].Name)
}

func TestGetDentistProfile(t *testing.T) {
	f := newFixture(t)

	result, err := f.call(t, "get_dentist_profile", map[string]any{"dentist_id": float64(2)})
	require.NoError(t, err)
	assert.Equal(t, "Dr. Ramesh Gupta", result.(*core.Dentist).Name)

	result, err = f.call(t, "get_dentist_profile", map[string]any{"name": "asha"})
	require.NoError(t, err)
	assert.Equal(t, "Dr. Asha Rao", result.(*core.Dentist).Name)

	result, err = f.call(t, "get_dentist_profile", map[string]any{"dentist_id": float64(99)})
	require.NoError(t, err)
	assert.Equal(t, "dentist_not_found", result.(map[string]any)["error"])

	result, err = f.call(t, "get_dentist_profile", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "invalid_payload", result.(map[string]any)["error"])
}

func TestGetAvailability(t *testing.T) {
	f := newFixture(t)
	result, err := f.call(t, "get_availability", map[string]any{"dentist_id": float64(1)})
	require.NoError(t, err)
	assert.Equal(t, "Mon-Fri 10:00-17:00", result.(map[string]any)["availability_schedule"])
}

func TestUpdatePatientProfile(t *testing.T) {
	f := newFixture(t)

	result, err := f.call(t, "update_patient_profile", map[string]any{
		"name": "Maya Iyer", "age": float64(29), "gender": "Female",
	})
	require.NoError(t, err)
	assert.Equal(t, "success", result.(map[string]any)["status"])

	got, err := f.store.GetPatient(context.Background(), f.patient.ID)
	require.NoError(t, err)
	assert.Equal(t, "Maya Iyer", got.Name)
	assert.Equal(t, 29, got.Age)

	// The in-flight patient view is refreshed too.
	assert.Equal(t, "Maya Iyer", f.patient.Name)

	result, err = f.call(t, "update_patient_profile", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "no_update_fields_provided", result.(map[string]any)["error"])
}

func TestBookAppointment(t *testing.T) {
	f := newFixture(t)

	result, err := f.call(t, "book_appointment", map[string]any{
		"dentist_id":       float64(1),
		"appointment_time": "2026-09-10T10:00:00",
	})
	require.NoError(t, err)
	appt := result.(*core.Appointment)
	assert.Equal(t, core.AppointmentScheduled, appt.Status)
	assert.Equal(t, f.patient.ID, appt.PatientID)

	// Same dentist, same slot: clash.
	result, err = f.call(t, "book_appointment", map[string]any{
		"dentist_id":       float64(1),
		"appointment_time": "2026-09-10T10:00:00",
	})
	require.NoError(t, err)
	assert.Equal(t, "slot_unavailable", result.(map[string]any)["error"])

	result, err = f.call(t, "book_appointment", map[string]any{
		"dentist_id":       float64(99),
		"appointment_time": "2026-09-10T11:00:00",
	})
	require.NoError(t, err)
	assert.Equal(t, "dentist_not_found", result.(map[string]any)["error"])

	result, err = f.call(t, "book_appointment", map[string]any{
		"dentist_id":       float64(1),
		"appointment_time": "next tuesday",
	})
	require.NoError(t, err)
	assert.Equal(t, "validation_error", result.(map[string]any)["error"])
}

func TestUpcomingAppointments(t *testing.T) {
	f := newFixture(t)

	result, err := f.call(t, "upcoming_appointments", map[string]any{})
	require.NoError(t, err)
	assert.Empty(t, result.([]core.AppointmentDetail))

	_, err = f.call(t, "book_appointment", map[string]any{
		"dentist_id": float64(1), "appointment_time": "2026-09-10T10:00:00",
	})
	require.NoError(t, err)
	booked, err := f.call(t, "book_appointment", map[string]any{
		"dentist_id": float64(2), "appointment_time": "2026-09-11T10:00:00",
	})
	require.NoError(t, err)

	// Cancelled appointments drop out of the upcoming list.
	_, err = f.call(t, "cancel_appointment", map[string]any{
		"appointment_id": float64(booked.(*core.Appointment).ID),
	})
	require.NoError(t, err)

	result, err = f.call(t, "upcoming_appointments", map[string]any{})
	require.NoError(t, err)
	upcoming := result.([]core.AppointmentDetail)
	require.Len(t, upcoming, 1)
	assert.Equal(t, "Dr. Asha Rao", upcoming[0].DentistName)
}

func TestCancelAppointment(t *testing.T) {
	f := newFixture(t)

	booked, err := f.call(t, "book_appointment", map[string]any{
		"dentist_id": float64(1), "appointment_time": "2026-09-10T10:00:00",
	})
	require.NoError(t, err)
	id := booked.(*core.Appointment).ID

	result, err := f.call(t, "cancel_appointment", map[string]any{"appointment_id": float64(id)})
	require.NoError(t, err)
	assert.Equal(t, "cancelled", result.(map[string]any)["status"])

	// Cancelling again reports not found.
	result, err = f.call(t, "cancel_appointment", map[string]any{"appointment_id": float64(id)})
	require.NoError(t, err)
	assert.Equal(t, "not_found", result.(map[string]any)["error"])

	// By dentist and time.
	_, err = f.call(t, "book_appointment", map[string]any{
		"dentist_id": float64(1), "appointment_time": "2026-09-12T10:00:00",
	})
	require.NoError(t, err)
	result, err = f.call(t, "cancel_appointment", map[string]any{
		"dentist_id": float64(1), "appointment_time": "2026-09-12T10:00:00",
	})
	require.NoError(t, err)
	assert.Equal(t, "cancelled", result.(map[string]any)["status"])

	result, err = f.call(t, "cancel_appointment", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "invalid_payload", result.(map[string]any)["error"])
}

func TestRescheduleAppointment(t *testing.T) {
	f := newFixture(t)

	booked, err := f.call(t, "book_appointment", map[string]any{
		"dentist_id": float64(1), "appointment_time": "2026-09-10T10:00:00",
	})
	require.NoError(t, err)
	id := booked.(*core.Appointment).ID

	other, err := f.call(t, "book_appointment", map[string]any{
		"dentist_id": float64(1), "appointment_time": "2026-09-10T11:00:00",
	})
	require.NoError(t, err)

	// Moving onto another booking's slot is refused.
	result, err := f.call(t, "reschedule_appointment", map[string]any{
		"appointment_id": float64(id), "new_appointment_time": "2026-09-10T11:00:00",
	})
	require.NoError(t, err)
	assert.Equal(t, "new_slot_unavailable", result.(map[string]any)["error"])

	result, err = f.call(t, "reschedule_appointment", map[string]any{
		"appointment_id": float64(id), "new_appointment_time": "2026-09-10T12:00:00",
	})
	require.NoError(t, err)
	assert.Equal(t, "rescheduled", result.(map[string]any)["status"])

	got, err := f.store.GetAppointment(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, core.AppointmentRescheduled, got.Status)

	// A rescheduled appointment can be moved again.
	result, err = f.call(t, "reschedule_appointment", map[string]any{
		"appointment_id": float64(id), "new_appointment_time": "2026-09-10T13:00:00",
	})
	require.NoError(t, err)
	assert.Equal(t, "rescheduled", result.(map[string]any)["status"])

	_ = other
}

func TestCloseConversation(t *testing.T) {
	f := newFixture(t)

	result, err := f.call(t, "close_conversation", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "success", result.(map[string]any)["status"])

	conv, err := f.store.GetConversation(context.Background(), f.convID)
	require.NoError(t, err)
	assert.Equal(t, core.ConversationClosed, conv.Status)
	assert.Equal(t, core.CloseReasonUserConfirmed, conv.ClosedReason)
}

func TestSystemPrompt(t *testing.T) {
	prompt := SystemPrompt(&core.Patient{
		ID: 1, Name: core.PlaceholderPatientName, PhoneNumber: "15550001111",
	}, 42)
	assert.Contains(t, prompt, "Sia")
	assert.Contains(t, prompt, "New Patient")
	assert.Contains(t, prompt, "Current Conversation ID: 42")
	assert.Contains(t, prompt, "Age: Not provided")

	assert.NotContains(t, SystemPrompt(nil, 0), "Current Patient Information")
}
