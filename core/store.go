package core

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by store accessors when the requested record does
// not exist.
var ErrNotFound = errors.New("not found")

// Store is the durable persistence boundary consumed by the engine and the
// clinic tools. Implementations must be safe for concurrent use: intake may
// run from many webhook handlers while the worker and the sweep read and
// write the same tables.
type Store interface {
	// CreatePatient inserts a patient and returns it with the assigned id.
	CreatePatient(ctx context.Context, p *Patient) (*Patient, error)

	// GetPatient returns the patient with the given id.
	GetPatient(ctx context.Context, id int64) (*Patient, error)

	// GetPatientByPhone returns the patient with the given WhatsApp number.
	GetPatientByPhone(ctx context.Context, phone string) (*Patient, error)

	// UpdatePatient overwrites the mutable profile fields of a patient.
	UpdatePatient(ctx context.Context, p *Patient) error

	// CreateConversation opens a new conversation for a patient.
	CreateConversation(ctx context.Context, patientID int64) (*Conversation, error)

	// GetConversation returns the conversation with the given id.
	GetConversation(ctx context.Context, id int64) (*Conversation, error)

	// GetOpenConversation returns the patient's single open conversation.
	GetOpenConversation(ctx context.Context, patientID int64) (*Conversation, error)

	// CloseConversation transitions a conversation to closed with a reason.
	// Closing an already closed conversation is a no-op, not an error.
	CloseConversation(ctx context.Context, id int64, reason string) error

	// AppendMessage appends one entry to a conversation's durable log.
	AppendMessage(ctx context.Context, conversationID int64, kind SenderKind, payload string) (*Message, error)

	// ListMessages returns a conversation's full log in created-at order.
	ListMessages(ctx context.Context, conversationID int64) ([]Message, error)

	// ListDentists returns all dentists.
	ListDentists(ctx context.Context) ([]Dentist, error)

	// GetDentist returns the dentist with the given id.
	GetDentist(ctx context.Context, id int64) (*Dentist, error)

	// FindDentistByName returns the first dentist whose name matches the
	// given fragment, case-insensitively.
	FindDentistByName(ctx context.Context, name string) (*Dentist, error)

	// CreateAppointment inserts an appointment and returns it with the
	// assigned id.
	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)

	// GetAppointment returns the appointment with the given id.
	GetAppointment(ctx context.Context, id int64) (*Appointment, error)

	// UpdateAppointmentStatus sets an appointment's status.
	UpdateAppointmentStatus(ctx context.Context, id int64, status AppointmentStatus) error

	// RescheduleAppointment moves an appointment to a new time, marking it
	// rescheduled.
	RescheduleAppointment(ctx context.Context, id int64, at time.Time) error

	// FindScheduledAppointment returns the scheduled appointment occupying a
	// dentist's slot at the given time, used for clash detection.
	FindScheduledAppointment(ctx context.Context, dentistID int64, at time.Time) (*Appointment, error)

	// FindPatientAppointment returns a patient's scheduled appointment with a
	// dentist at the given time.
	FindPatientAppointment(ctx context.Context, patientID, dentistID int64, at time.Time) (*Appointment, error)

	// ListPatientAppointments returns a patient's appointments joined with
	// dentist and patient names, ordered by time.
	ListPatientAppointments(ctx context.Context, patientID int64) ([]AppointmentDetail, error)
}
