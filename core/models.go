package core

import "time"

// Patient is a clinic patient identified by their WhatsApp number. A record
// is created on first contact with a placeholder name; the planner completes
// the profile via the update_patient_profile tool. Patients are never deleted
// by the engine.
type Patient struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Age         int    `json:"age,omitempty"`
	Gender      string `json:"gender,omitempty"` // Male/Female/Other
	PhoneNumber string `json:"phone_number"`
}

// PlaceholderPatientName is assigned to patients auto-created on first
// contact, pending profile completion by the assistant.
const PlaceholderPatientName = "New Patient"

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	// ConversationOpen marks a conversation that still accepts turns.
	ConversationOpen ConversationStatus = "open"
	// ConversationClosed marks a finished conversation. Closed conversations
	// are immutable.
	ConversationClosed ConversationStatus = "closed"
)

// Close reasons recorded on conversations.
const (
	CloseReasonTimedOut      = "timed_out"
	CloseReasonUserConfirmed = "user_confirmed"
)

// Conversation groups the message log of one dialogue with a patient. The
// intake path enforces at most one open conversation per patient.
type Conversation struct {
	ID           int64              `json:"id"`
	PatientID    int64              `json:"patient_id"`
	Status       ConversationStatus `json:"status"`
	StartedAt    time.Time          `json:"started_at"`
	EndedAt      *time.Time         `json:"ended_at,omitempty"`
	ClosedReason string             `json:"closed_reason,omitempty"`
}

// SenderKind classifies a durable log entry. The log is append-only and is
// the sole durable source of truth for transcript reconstruction.
type SenderKind string

const (
	// SenderUser is raw text from the end user.
	SenderUser SenderKind = "user"
	// SenderAgentText is a final natural-language reply.
	SenderAgentText SenderKind = "agent_text"
	// SenderAgentToolRequest is a serialized list of tool invocation requests
	// emitted instead of a text reply.
	SenderAgentToolRequest SenderKind = "agent_tool_request"
	// SenderToolResult is a serialized pairing of a tool call id and the
	// result payload returned by the tool.
	SenderToolResult SenderKind = "tool_result"
)

// Message is one durable log entry, ordered by CreatedAt within its
// conversation.
type Message struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversation_id"`
	Sender         SenderKind `json:"sender"`
	Payload        string     `json:"payload"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Dentist is a practitioner record exposed to the planner through the
// directory tools.
type Dentist struct {
	ID                   int64  `json:"id"`
	Name                 string `json:"name"`
	Specialization       string `json:"specialization"`
	LanguagesSpoken      string `json:"languages_spoken"`
	Qualifications       string `json:"qualifications,omitempty"`
	YearsExperience      int    `json:"years_experience,omitempty"`
	AvailabilitySchedule string `json:"availability_schedule,omitempty"`
}

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	// AppointmentScheduled is an upcoming booked appointment.
	AppointmentScheduled AppointmentStatus = "scheduled"
	// AppointmentCancelled is a cancelled appointment.
	AppointmentCancelled AppointmentStatus = "cancelled"
	// AppointmentCompleted is a past, fulfilled appointment.
	AppointmentCompleted AppointmentStatus = "completed"
	// AppointmentRescheduled is an appointment moved to a new time.
	AppointmentRescheduled AppointmentStatus = "rescheduled"
)

// Appointment links a patient to a dentist at a point in time.
type Appointment struct {
	ID              int64             `json:"id"`
	PatientID       int64             `json:"patient_id"`
	DentistID       int64             `json:"dentist_id"`
	AppointmentTime time.Time         `json:"appointment_time"`
	Status          AppointmentStatus `json:"status"`
}

// AppointmentDetail is an appointment joined with dentist and patient names,
// the shape returned to the planner by upcoming_appointments.
type AppointmentDetail struct {
	AppointmentID   int64             `json:"appointment_id"`
	AppointmentTime time.Time         `json:"appointment_time"`
	Status          AppointmentStatus `json:"status"`
	DentistName     string            `json:"dentist_name"`
	PatientName     string            `json:"patient_name"`
}

// QueueItem is the unit of work handed from intake to the worker. Immutable
// once enqueued.
type QueueItem struct {
	ConversationID int64
	Patient        *Patient
	Text           string
	EnqueuedAt     time.Time
}
