package clinic

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dentaldesk/dentaldesk/core"
	"github.com/dentaldesk/dentaldesk/tool"
)

// Toolset builds the booking tools the planner can call. All tools resolve
// "the current patient" and "the current conversation" from the ToolContext,
// so the planner only supplies domain arguments. Domain failures (unknown
// dentist, taken slot) come back as error payloads in the result, letting
// the planner explain and recover; they are not Go errors.
//
// The now func is injectable for tests; pass nil for time.Now.
func Toolset(store core.Store, now func() time.Time) []tool.Tool {
	if now == nil {
		now = time.Now
	}
	t := &toolset{store: store, now: now}
	return []tool.Tool{
		tool.NewFunctionTool(
			"get_current_time",
			"Returns the current date and time in ISO 8601 format. Must be called before any time-sensitive operation like booking, rescheduling or cancelling.",
			objectSchema(nil, nil),
			t.getCurrentTime,
		),
		tool.NewFunctionTool(
			"list_dentists",
			"Retrieves a list of all available dentists, optionally filtered by specialization (e.g. 'Orthodontist', 'Endodontist').",
			objectSchema(map[string]any{
				"specialization": stringProp("Optional specialization filter"),
			}, nil),
			t.listDentists,
		),
		tool.NewFunctionTool(
			"get_dentist_profile",
			"Gets the detailed profile of a specific dentist, either by their unique ID or by their name. Providing a name returns the first match.",
			objectSchema(map[string]any{
				"dentist_id": integerProp("Unique dentist ID"),
				"name":       stringProp("Dentist name or fragment of it"),
			}, nil),
			t.getDentistProfile,
		),
		tool.NewFunctionTool(
			"get_availability",
			"Fetches the weekly availability schedule for a specific dentist, identified by their ID.",
			objectSchema(map[string]any{
				"dentist_id": integerProp("Unique dentist ID"),
			}, []string{"dentist_id"}),
			t.getAvailability,
		),
		tool.NewFunctionTool(
			"update_patient_profile",
			"Updates the current patient's profile details (name, age, gender). Use this to register the full details of a newly identified patient.",
			objectSchema(map[string]any{
				"name":   stringProp("Patient full name"),
				"age":    integerProp("Patient age in years"),
				"gender": stringProp("Patient gender: Male, Female or Other"),
			}, nil),
			t.updatePatientProfile,
		),
		tool.NewFunctionTool(
			"upcoming_appointments",
			"Returns all upcoming scheduled appointments for the current patient.",
			objectSchema(nil, nil),
			t.upcomingAppointments,
		),
		tool.NewFunctionTool(
			"book_appointment",
			"Books a new appointment for the current patient with a specific dentist at a given time (ISO 8601).",
			objectSchema(map[string]any{
				"dentist_id":       integerProp("Unique dentist ID"),
				"appointment_time": stringProp("Appointment time in ISO 8601 format"),
			}, []string{"dentist_id", "appointment_time"}),
			t.bookAppointment,
		),
		tool.NewFunctionTool(
			"cancel_appointment",
			"Cancels an existing appointment. Provide the unique appointment_id, or the dentist_id plus appointment_time of the current patient's booking.",
			objectSchema(map[string]any{
				"appointment_id":   integerProp("Unique appointment ID"),
				"dentist_id":       integerProp("Unique dentist ID"),
				"appointment_time": stringProp("Appointment time in ISO 8601 format"),
			}, nil),
			t.cancelAppointment,
		),
		tool.NewFunctionTool(
			"reschedule_appointment",
			"Reschedules an existing appointment to a new time. Requires the unique appointment_id.",
			objectSchema(map[string]any{
				"appointment_id":       integerProp("Unique appointment ID"),
				"new_appointment_time": stringProp("New appointment time in ISO 8601 format"),
			}, []string{"appointment_id", "new_appointment_time"}),
			t.rescheduleAppointment,
		),
		tool.NewFunctionTool(
			"close_conversation",
			"Closes the current conversation when the user has confirmed they have no more requests. Use this when the user says 'no', 'that's all', 'I'm done', etc.",
			objectSchema(map[string]any{
				"reason": stringProp("The reason for closing the conversation"),
			}, nil),
			t.closeConversation,
		),
	}
}

type toolset struct {
	store core.Store
	now   func() time.Time
}

func (t *toolset) getCurrentTime(tc *core.ToolContext, _ map[string]any) (any, error) {
	return t.now().Format(time.RFC3339), nil
}

func (t *toolset) listDentists(tc *core.ToolContext, args map[string]any) (any, error) {
	dentists, err := t.store.ListDentists(tc.Context())
	if err != nil {
		return nil, err
	}
	specialization, _ := args["specialization"].(string)
	if specialization == "" {
		return dentists, nil
	}
	filtered := make([]core.Dentist, 0, len(dentists))
	for _, d := range dentists {
		if strings.Contains(strings.ToLower(d.Specialization), strings.ToLower(specialization)) {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

func (t *toolset) getDentistProfile(tc *core.ToolContext, args map[string]any) (any, error) {
	if id, ok := intArg(args, "dentist_id"); ok {
		dentist, err := t.store.GetDentist(tc.Context(), id)
		if errors.Is(err, core.ErrNotFound) {
			return errPayload("dentist_not_found", ""), nil
		}
		if err != nil {
			return nil, err
		}
		return dentist, nil
	}
	if name, _ := args["name"].(string); name != "" {
		dentist, err := t.store.FindDentistByName(tc.Context(), name)
		if errors.Is(err, core.ErrNotFound) {
			return errPayload("dentist_not_found", ""), nil
		}
		if err != nil {
			return nil, err
		}
		return dentist, nil
	}
	return errPayload("invalid_payload", "A dentist_id or name must be provided."), nil
}

func (t *toolset) getAvailability(tc *core.ToolContext, args map[string]any) (any, error) {
	id, _ := intArg(args, "dentist_id")
	dentist, err := t.store.GetDentist(tc.Context(), id)
	if errors.Is(err, core.ErrNotFound) {
		return errPayload("dentist_not_found", ""), nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"availability_schedule": dentist.AvailabilitySchedule}, nil
}

func (t *toolset) updatePatientProfile(tc *core.ToolContext, args map[string]any) (any, error) {
	if tc.Patient == nil {
		return errPayload("patient_not_found", ""), nil
	}
	patient, err := t.store.GetPatient(tc.Context(), tc.Patient.ID)
	if err != nil {
		return nil, err
	}

	updated := false
	if name, ok := args["name"].(string); ok && name != "" {
		patient.Name = name
		updated = true
	}
	if age, ok := intArg(args, "age"); ok {
		patient.Age = int(age)
		updated = true
	}
	if gender, ok := args["gender"].(string); ok && gender != "" {
		patient.Gender = gender
		updated = true
	}
	if !updated {
		return errPayload("no_update_fields_provided", "You must provide at least one field to update."), nil
	}

	if err := t.store.UpdatePatient(tc.Context(), patient); err != nil {
		return nil, err
	}
	// Keep the in-flight turn's view of the patient current too.
	*tc.Patient = *patient
	tc.LogInfo("patient profile updated", "patient_id", patient.ID)
	return map[string]any{"status": "success", "patient_id": patient.ID}, nil
}

func (t *toolset) upcomingAppointments(tc *core.ToolContext, _ map[string]any) (any, error) {
	if tc.Patient == nil {
		return []core.AppointmentDetail{}, nil
	}
	details, err := t.store.ListPatientAppointments(tc.Context(), tc.Patient.ID)
	if err != nil {
		return nil, err
	}
	upcoming := make([]core.AppointmentDetail, 0, len(details))
	for _, d := range details {
		if d.Status == core.AppointmentScheduled || d.Status == core.AppointmentRescheduled {
			upcoming = append(upcoming, d)
		}
	}
	return upcoming, nil
}

func (t *toolset) bookAppointment(tc *core.ToolContext, args map[string]any) (any, error) {
	if tc.Patient == nil {
		return errPayload("patient_not_found", ""), nil
	}
	dentistID, _ := intArg(args, "dentist_id")
	at, err := parseTime(args["appointment_time"])
	if err != nil {
		return errPayload("validation_error", err.Error()), nil
	}

	if _, err := t.store.GetDentist(tc.Context(), dentistID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return errPayload("dentist_not_found", ""), nil
		}
		return nil, err
	}

	if _, err := t.store.FindScheduledAppointment(tc.Context(), dentistID, at); err == nil {
		return errPayload("slot_unavailable", "The requested time slot is already booked."), nil
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	created, err := t.store.CreateAppointment(tc.Context(), &core.Appointment{
		PatientID:       tc.Patient.ID,
		DentistID:       dentistID,
		AppointmentTime: at,
		Status:          core.AppointmentScheduled,
	})
	if err != nil {
		return nil, err
	}
	tc.LogInfo("appointment booked", "appointment_id", created.ID, "dentist_id", dentistID)
	return created, nil
}

func (t *toolset) cancelAppointment(tc *core.ToolContext, args map[string]any) (any, error) {
	if id, ok := intArg(args, "appointment_id"); ok {
		appt, err := t.store.GetAppointment(tc.Context(), id)
		if errors.Is(err, core.ErrNotFound) {
			return errPayload("not_found", "Appointment ID not found."), nil
		}
		if err != nil {
			return nil, err
		}
		if appt.Status != core.AppointmentScheduled && appt.Status != core.AppointmentRescheduled {
			return errPayload("not_found", "Appointment ID not found or already cancelled."), nil
		}
		if err := t.store.UpdateAppointmentStatus(tc.Context(), id, core.AppointmentCancelled); err != nil {
			return nil, err
		}
		tc.LogInfo("appointment cancelled", "appointment_id", id)
		return map[string]any{"status": "cancelled", "appointment_id": id}, nil
	}

	dentistID, haveDentist := intArg(args, "dentist_id")
	at, timeErr := parseTime(args["appointment_time"])
	if !haveDentist || timeErr != nil || tc.Patient == nil {
		return errPayload("invalid_payload", "You must provide either an appointment_id or both dentist_id and appointment_time."), nil
	}

	appt, err := t.store.FindPatientAppointment(tc.Context(), tc.Patient.ID, dentistID, at)
	if errors.Is(err, core.ErrNotFound) {
		return errPayload("not_found", "No matching scheduled appointment found for the given details."), nil
	}
	if err != nil {
		return nil, err
	}
	if err := t.store.UpdateAppointmentStatus(tc.Context(), appt.ID, core.AppointmentCancelled); err != nil {
		return nil, err
	}
	tc.LogInfo("appointment cancelled", "appointment_id", appt.ID)
	return map[string]any{"status": "cancelled", "appointment_id": appt.ID}, nil
}

func (t *toolset) rescheduleAppointment(tc *core.ToolContext, args map[string]any) (any, error) {
	id, _ := intArg(args, "appointment_id")
	at, err := parseTime(args["new_appointment_time"])
	if err != nil {
		return errPayload("validation_error", err.Error()), nil
	}

	appt, err := t.store.GetAppointment(tc.Context(), id)
	if errors.Is(err, core.ErrNotFound) {
		return errPayload("appointment_not_found_or_not_scheduled", ""), nil
	}
	if err != nil {
		return nil, err
	}
	if appt.Status != core.AppointmentScheduled && appt.Status != core.AppointmentRescheduled {
		return errPayload("appointment_not_found_or_not_scheduled", ""), nil
	}

	if clash, err := t.store.FindScheduledAppointment(tc.Context(), appt.DentistID, at); err == nil && clash.ID != id {
		return errPayload("new_slot_unavailable", ""), nil
	} else if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	if err := t.store.RescheduleAppointment(tc.Context(), id, at); err != nil {
		return nil, err
	}
	tc.LogInfo("appointment rescheduled", "appointment_id", id, "new_time", at)
	return map[string]any{"status": "rescheduled", "appointment_id": id}, nil
}

func (t *toolset) closeConversation(tc *core.ToolContext, args map[string]any) (any, error) {
	reason, _ := args["reason"].(string)
	if reason == "" {
		reason = core.CloseReasonUserConfirmed
	}
	if err := t.store.CloseConversation(tc.Context(), tc.ConversationID, reason); err != nil {
		return errPayload("db_error", err.Error()), nil
	}
	tc.LogInfo("conversation closed by planner", "conversation_id", tc.ConversationID, "reason", reason)
	return map[string]any{"status": "success", "conversation_id": tc.ConversationID}, nil
}

// --- helpers ---

func objectSchema(properties map[string]any, required []string) map[string]any {
	if properties == nil {
		properties = map[string]any{}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func integerProp(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

func errPayload(code, details string) map[string]any {
	payload := map[string]any{"error": code}
	if details != "" {
		payload["details"] = details
	}
	return payload
}

func intArg(args map[string]any, key string) (int64, bool) {
	switch v := args[key].(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

// parseTime accepts the timestamp shapes models actually produce.
func parseTime(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, fmt.Errorf("appointment time is required")
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format %q, use ISO 8601", s)
}
