// Package store provides the durable SQLite persistence layer behind the
// core.Store interface, using the pure Go modernc.org/sqlite driver.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dentaldesk/dentaldesk/core"
	"github.com/dentaldesk/dentaldesk/logging"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements core.Store on a single SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	logger logging.Logger
}

var _ core.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at path, applies the
// schema, and seeds the dentist directory when it is empty. Parent
// directories are created automatically. Pass a nil logger to silence the
// store.
func NewSQLiteStore(path string, logger logging.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL lets the webhook intake, the worker and the sweep hit the same
	// file without writer starvation.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	if err := s.seedDentists(); err != nil {
		db.Close()
		return nil, fmt.Errorf("seeding dentists: %w", err)
	}

	logger.Info("sqlite store initialized", "path", path)
	return s, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// DB exposes the raw handle for test fixtures.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS patients (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			age INTEGER,
			gender TEXT,
			phone_number TEXT NOT NULL UNIQUE
		);

		CREATE TABLE IF NOT EXISTS dentists (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			specialization TEXT NOT NULL,
			languages_spoken TEXT NOT NULL,
			qualifications TEXT,
			years_experience INTEGER,
			availability_schedule TEXT
		);

		CREATE TABLE IF NOT EXISTS appointments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			patient_id INTEGER NOT NULL,
			dentist_id INTEGER NOT NULL,
			appointment_time DATETIME NOT NULL,
			status TEXT NOT NULL DEFAULT 'scheduled',
			FOREIGN KEY (patient_id) REFERENCES patients(id),
			FOREIGN KEY (dentist_id) REFERENCES dentists(id)
		);

		CREATE INDEX IF NOT EXISTS idx_appointments_dentist_time
			ON appointments(dentist_id, appointment_time);

		CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			patient_id INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'open',
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			closed_reason TEXT,
			FOREIGN KEY (patient_id) REFERENCES patients(id)
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_patient_status
			ON conversations(patient_id, status);

		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL,
			sender TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) seedDentists() error {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM dentists").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		s.logger.Debug("dentists already present, skipping seeding", "count", count)
		return nil
	}

	seed := []core.Dentist{
		{Name: "Dr. Asha Rao", Specialization: "Orthodontist", LanguagesSpoken: "English, Hindi, Kannada", Qualifications: "BDS, MDS", YearsExperience: 12, AvailabilitySchedule: "Mon-Fri 10:00-17:00"},
		{Name: "Dr. Ramesh Gupta", Specialization: "Endodontist", LanguagesSpoken: "English, Hindi", Qualifications: "BDS, MDS", YearsExperience: 15, AvailabilitySchedule: "Tue-Sat 11:00-18:00"},
		{Name: "Dr. Meera Nair", Specialization: "Pediatric Dentist", LanguagesSpoken: "English, Malayalam", Qualifications: "BDS, MDS", YearsExperience: 10, AvailabilitySchedule: "Mon-Thu 09:00-14:00"},
		{Name: "Dr. Vikram Singh", Specialization: "Periodontist", LanguagesSpoken: "English, Hindi", Qualifications: "BDS, MDS", YearsExperience: 8, AvailabilitySchedule: "Wed-Fri 14:00-20:00"},
		{Name: "Dr. Shalini Desai", Specialization: "Prosthodontist", LanguagesSpoken: "English, Gujarati", Qualifications: "BDS, MDS", YearsExperience: 20, AvailabilitySchedule: "Mon-Sat 10:00-16:00"},
	}
	for _, d := range seed {
		_, err := s.db.Exec(
			`INSERT INTO dentists (name, specialization, languages_spoken, qualifications, years_experience, availability_schedule)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			d.Name, d.Specialization, d.LanguagesSpoken, d.Qualifications, d.YearsExperience, d.AvailabilitySchedule,
		)
		if err != nil {
			return err
		}
	}
	s.logger.Info("seeded dentist directory", "count", len(seed))
	return nil
}

// --- patients ---

func (s *SQLiteStore) CreatePatient(ctx context.Context, p *core.Patient) (*core.Patient, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO patients (name, age, gender, phone_number) VALUES (?, ?, ?, ?)",
		p.Name, nullInt(p.Age), nullString(p.Gender), p.PhoneNumber,
	)
	if err != nil {
		return nil, fmt.Errorf("creating patient: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	created := *p
	created.ID = id
	return &created, nil
}

func (s *SQLiteStore) GetPatient(ctx context.Context, id int64) (*core.Patient, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, age, gender, phone_number FROM patients WHERE id = ?", id)
	return scanPatient(row)
}

func (s *SQLiteStore) GetPatientByPhone(ctx context.Context, phone string) (*core.Patient, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, age, gender, phone_number FROM patients WHERE phone_number = ?", phone)
	return scanPatient(row)
}

func (s *SQLiteStore) UpdatePatient(ctx context.Context, p *core.Patient) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE patients SET name = ?, age = ?, gender = ? WHERE id = ?",
		p.Name, nullInt(p.Age), nullString(p.Gender), p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating patient %d: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func scanPatient(row *sql.Row) (*core.Patient, error) {
	var p core.Patient
	var age sql.NullInt64
	var gender sql.NullString
	err := row.Scan(&p.ID, &p.Name, &age, &gender, &p.PhoneNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Age = int(age.Int64)
	p.Gender = gender.String
	return &p, nil
}

// --- conversations ---

func (s *SQLiteStore) CreateConversation(ctx context.Context, patientID int64) (*core.Conversation, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (patient_id, status, started_at) VALUES (?, ?, ?)",
		patientID, core.ConversationOpen, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &core.Conversation{
		ID:        id,
		PatientID: patientID,
		Status:    core.ConversationOpen,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id int64) (*core.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, patient_id, status, started_at, ended_at, closed_reason
		 FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

func (s *SQLiteStore) GetOpenConversation(ctx context.Context, patientID int64) (*core.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, patient_id, status, started_at, ended_at, closed_reason
		 FROM conversations WHERE patient_id = ? AND status = ?
		 ORDER BY id DESC LIMIT 1`, patientID, core.ConversationOpen)
	return scanConversation(row)
}

func (s *SQLiteStore) CloseConversation(ctx context.Context, id int64, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ?, ended_at = ?, closed_reason = ?
		 WHERE id = ? AND status = ?`,
		core.ConversationClosed, time.Now().UTC(), reason, id, core.ConversationOpen,
	)
	if err != nil {
		return fmt.Errorf("closing conversation %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Already closed, or missing. Distinguish so callers see ErrNotFound
		// for bogus ids while double-close stays a no-op.
		if _, err := s.GetConversation(ctx, id); err != nil {
			return err
		}
		s.logger.Debug("conversation already closed", "conversation_id", id)
	}
	return nil
}

func scanConversation(row *sql.Row) (*core.Conversation, error) {
	var c core.Conversation
	var endedAt sql.NullTime
	var reason sql.NullString
	err := row.Scan(&c.ID, &c.PatientID, &c.Status, &c.StartedAt, &endedAt, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	c.ClosedReason = reason.String
	return &c, nil
}

// --- messages ---

func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID int64, kind core.SenderKind, payload string) (*core.Message, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (conversation_id, sender, payload, created_at) VALUES (?, ?, ?, ?)",
		conversationID, kind, payload, now,
	)
	if err != nil {
		return nil, fmt.Errorf("appending message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &core.Message{
		ID:             id,
		ConversationID: conversationID,
		Sender:         kind,
		Payload:        payload,
		CreatedAt:      now,
	}, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID int64) ([]core.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, sender, payload, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var messages []core.Message
	for rows.Next() {
		var m core.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Payload, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// --- dentists ---

func (s *SQLiteStore) ListDentists(ctx context.Context) ([]core.Dentist, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, specialization, languages_spoken, qualifications, years_experience, availability_schedule
		 FROM dentists ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing dentists: %w", err)
	}
	defer rows.Close()

	var dentists []core.Dentist
	for rows.Next() {
		d, err := scanDentistRow(rows)
		if err != nil {
			return nil, err
		}
		dentists = append(dentists, *d)
	}
	return dentists, rows.Err()
}

func (s *SQLiteStore) GetDentist(ctx context.Context, id int64) (*core.Dentist, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, specialization, languages_spoken, qualifications, years_experience, availability_schedule
		 FROM dentists WHERE id = ?`, id)
	return scanDentist(row)
}

func (s *SQLiteStore) FindDentistByName(ctx context.Context, name string) (*core.Dentist, error) {
	pattern := "%" + strings.TrimSpace(name) + "%"
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, specialization, languages_spoken, qualifications, years_experience, availability_schedule
		 FROM dentists WHERE name LIKE ? COLLATE NOCASE ORDER BY id ASC LIMIT 1`, pattern)
	return scanDentist(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDentist(row *sql.Row) (*core.Dentist, error) {
	d, err := scanDentistRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	return d, err
}

func scanDentistRow(row rowScanner) (*core.Dentist, error) {
	var d core.Dentist
	var qualifications, schedule sql.NullString
	var years sql.NullInt64
	err := row.Scan(&d.ID, &d.Name, &d.Specialization, &d.LanguagesSpoken, &qualifications, &years, &schedule)
	if err != nil {
		return nil, err
	}
	d.Qualifications = qualifications.String
	d.YearsExperience = int(years.Int64)
	d.AvailabilitySchedule = schedule.String
	return &d, nil
}

// --- appointments ---

func (s *SQLiteStore) CreateAppointment(ctx context.Context, a *core.Appointment) (*core.Appointment, error) {
	status := a.Status
	if status == "" {
		status = core.AppointmentScheduled
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO appointments (patient_id, dentist_id, appointment_time, status) VALUES (?, ?, ?, ?)",
		a.PatientID, a.DentistID, a.AppointmentTime.UTC(), status,
	)
	if err != nil {
		return nil, fmt.Errorf("creating appointment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	created := *a
	created.ID = id
	created.Status = status
	return &created, nil
}

func (s *SQLiteStore) GetAppointment(ctx context.Context, id int64) (*core.Appointment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, patient_id, dentist_id, appointment_time, status
		 FROM appointments WHERE id = ?`, id)
	return scanAppointment(row)
}

func (s *SQLiteStore) UpdateAppointmentStatus(ctx context.Context, id int64, status core.AppointmentStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE appointments SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("updating appointment %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) RescheduleAppointment(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE appointments SET appointment_time = ?, status = ? WHERE id = ?",
		at.UTC(), core.AppointmentRescheduled, id)
	if err != nil {
		return fmt.Errorf("rescheduling appointment %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) FindScheduledAppointment(ctx context.Context, dentistID int64, at time.Time) (*core.Appointment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, patient_id, dentist_id, appointment_time, status
		 FROM appointments
		 WHERE dentist_id = ? AND appointment_time = ? AND status IN (?, ?)
		 LIMIT 1`,
		dentistID, at.UTC(), core.AppointmentScheduled, core.AppointmentRescheduled)
	return scanAppointment(row)
}

func (s *SQLiteStore) FindPatientAppointment(ctx context.Context, patientID, dentistID int64, at time.Time) (*core.Appointment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, patient_id, dentist_id, appointment_time, status
		 FROM appointments
		 WHERE patient_id = ? AND dentist_id = ? AND appointment_time = ? AND status IN (?, ?)
		 LIMIT 1`,
		patientID, dentistID, at.UTC(), core.AppointmentScheduled, core.AppointmentRescheduled)
	return scanAppointment(row)
}

func (s *SQLiteStore) ListPatientAppointments(ctx context.Context, patientID int64) ([]core.AppointmentDetail, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.appointment_time, a.status, d.name, p.name
		 FROM appointments a
		 JOIN dentists d ON d.id = a.dentist_id
		 JOIN patients p ON p.id = a.patient_id
		 WHERE a.patient_id = ?
		 ORDER BY a.appointment_time ASC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("listing appointments: %w", err)
	}
	defer rows.Close()

	var details []core.AppointmentDetail
	for rows.Next() {
		var d core.AppointmentDetail
		if err := rows.Scan(&d.AppointmentID, &d.AppointmentTime, &d.Status, &d.DentistName, &d.PatientName); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

func scanAppointment(row *sql.Row) (*core.Appointment, error) {
	var a core.Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DentistID, &a.AppointmentTime, &a.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
