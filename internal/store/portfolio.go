package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// The portfolio tables are the engine's read model of the managed properties.
// The systems of record (trust accounting, maintenance vendors, listing
// portals) live outside this service and sync into these tables; the
// heartbeat scanners only ever read them, and action handlers write the few
// fields that reflect steward-initiated work.

// User is a property owner/manager the assistant acts for.
type User struct {
	ID        string
	Name      string
	Active    bool
	CreatedAt int64
}

// CreateUser inserts a user.
func (db *DB) CreateUser(u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt == 0 {
		u.CreatedAt = time.Now().UnixMilli()
	}
	active := 0
	if u.Active {
		active = 1
	}
	_, err := db.Exec(
		"INSERT INTO users (id, name, active, created_at) VALUES (?, ?, ?, ?)",
		u.ID, u.Name, active, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// ActiveUsers returns all active users, oldest first.
func (db *DB) ActiveUsers() ([]User, error) {
	rows, err := db.Query("SELECT id, COALESCE(name, ''), active, created_at FROM users WHERE active = 1 ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("active users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		var active int
		if err := rows.Scan(&u.ID, &u.Name, &active, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.Active = active != 0
		out = append(out, u)
	}
	return out, rows.Err()
}

// GetUser returns a user by ID, or nil if not found.
func (db *DB) GetUser(id string) (*User, error) {
	var u User
	var active int
	err := db.QueryRow("SELECT id, COALESCE(name, ''), active, created_at FROM users WHERE id = ?", id).
		Scan(&u.ID, &u.Name, &active, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Active = active != 0
	return &u, nil
}

// Tenancy is one lease under management.
type Tenancy struct {
	ID            string
	UserID        string
	Address       string
	Status        string // active, ending, negotiating, ended
	EndDate       *int64
	ArrearsCents  int64
	LastContactAt *int64
}

// CreateTenancy inserts a tenancy.
func (db *DB) CreateTenancy(t *Tenancy) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = "active"
	}
	_, err := db.Exec(`
		INSERT INTO tenancies (id, user_id, address, status, end_date, arrears_cents, last_contact_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.UserID, t.Address, t.Status, t.EndDate, t.ArrearsCents, t.LastContactAt)
	if err != nil {
		return fmt.Errorf("create tenancy: %w", err)
	}
	return nil
}

// Tenancies returns a user's non-ended tenancies.
func (db *DB) Tenancies(userID string) ([]Tenancy, error) {
	rows, err := db.Query(`
		SELECT id, user_id, COALESCE(address, ''), status, end_date, arrears_cents, last_contact_at
		FROM tenancies WHERE user_id = ? AND status != 'ended'
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("tenancies: %w", err)
	}
	defer rows.Close()

	var out []Tenancy
	for rows.Next() {
		var t Tenancy
		var endDate, lastContact sql.NullInt64
		if err := rows.Scan(&t.ID, &t.UserID, &t.Address, &t.Status, &endDate, &t.ArrearsCents, &lastContact); err != nil {
			return nil, fmt.Errorf("scan tenancy: %w", err)
		}
		if endDate.Valid {
			t.EndDate = &endDate.Int64
		}
		if lastContact.Valid {
			t.LastContactAt = &lastContact.Int64
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TouchTenancyContact records that the assistant contacted the tenant.
func (db *DB) TouchTenancyContact(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec("UPDATE tenancies SET last_contact_at = ? WHERE id = ?", now, id)
	if err != nil {
		return fmt.Errorf("touch tenancy contact: %w", err)
	}
	return nil
}

// MaintenanceRequest is a repair job reported for a tenancy.
type MaintenanceRequest struct {
	ID        string
	UserID    string
	TenancyID string
	Summary   string
	Status    string // open, in_progress, stalled, closed
	CreatedAt int64
	UpdatedAt int64
}

// CreateMaintenanceRequest inserts a maintenance request.
func (db *DB) CreateMaintenanceRequest(m *MaintenanceRequest) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UnixMilli()
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	if m.UpdatedAt == 0 {
		m.UpdatedAt = m.CreatedAt
	}
	if m.Status == "" {
		m.Status = "open"
	}
	_, err := db.Exec(`
		INSERT INTO maintenance_requests (id, user_id, tenancy_id, summary, status, created_at, updated_at)
		VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?)
	`, m.ID, m.UserID, m.TenancyID, m.Summary, m.Status, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create maintenance request: %w", err)
	}
	return nil
}

// OpenMaintenanceRequests returns a user's unfinished maintenance requests.
func (db *DB) OpenMaintenanceRequests(userID string) ([]MaintenanceRequest, error) {
	rows, err := db.Query(`
		SELECT id, user_id, COALESCE(tenancy_id, ''), COALESCE(summary, ''), status, created_at, updated_at
		FROM maintenance_requests WHERE user_id = ? AND status != 'closed'
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("open maintenance: %w", err)
	}
	defer rows.Close()

	var out []MaintenanceRequest
	for rows.Next() {
		var m MaintenanceRequest
		if err := rows.Scan(&m.ID, &m.UserID, &m.TenancyID, &m.Summary, &m.Status, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan maintenance: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Inspection is a scheduled or pending routine inspection.
type Inspection struct {
	ID        string
	UserID    string
	TenancyID string
	DueAt     int64
	Status    string // unscheduled, scheduled, completed
}

// CreateInspection inserts an inspection.
func (db *DB) CreateInspection(i *Inspection) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.Status == "" {
		i.Status = "unscheduled"
	}
	_, err := db.Exec(`
		INSERT INTO inspections (id, user_id, tenancy_id, due_at, status)
		VALUES (?, ?, NULLIF(?, ''), ?, ?)
	`, i.ID, i.UserID, i.TenancyID, i.DueAt, i.Status)
	if err != nil {
		return fmt.Errorf("create inspection: %w", err)
	}
	return nil
}

// InspectionsDueBy returns a user's uncompleted inspections due before the
// given time.
func (db *DB) InspectionsDueBy(userID string, by int64) ([]Inspection, error) {
	rows, err := db.Query(`
		SELECT id, user_id, COALESCE(tenancy_id, ''), due_at, status
		FROM inspections WHERE user_id = ? AND status != 'completed' AND due_at <= ?
	`, userID, by)
	if err != nil {
		return nil, fmt.Errorf("inspections due: %w", err)
	}
	defer rows.Close()

	var out []Inspection
	for rows.Next() {
		var i Inspection
		if err := rows.Scan(&i.ID, &i.UserID, &i.TenancyID, &i.DueAt, &i.Status); err != nil {
			return nil, fmt.Errorf("scan inspection: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// MarkInspectionScheduled flips an unscheduled inspection to scheduled.
func (db *DB) MarkInspectionScheduled(id string) error {
	_, err := db.Exec("UPDATE inspections SET status = 'scheduled' WHERE id = ? AND status = 'unscheduled'", id)
	if err != nil {
		return fmt.Errorf("mark inspection scheduled: %w", err)
	}
	return nil
}

// ComplianceItem is a statutory obligation with a deadline (smoke alarms,
// gas certificates, insurance renewals).
type ComplianceItem struct {
	ID     string
	UserID string
	Name   string
	DueAt  int64
	Status string // pending, done
}

// CreateComplianceItem inserts a compliance item.
func (db *DB) CreateComplianceItem(c *ComplianceItem) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = "pending"
	}
	_, err := db.Exec(`
		INSERT INTO compliance_items (id, user_id, name, due_at, status) VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.UserID, c.Name, c.DueAt, c.Status)
	if err != nil {
		return fmt.Errorf("create compliance item: %w", err)
	}
	return nil
}

// ComplianceDueBy returns pending compliance items due before the given time.
func (db *DB) ComplianceDueBy(userID string, by int64) ([]ComplianceItem, error) {
	rows, err := db.Query(`
		SELECT id, user_id, name, due_at, status
		FROM compliance_items WHERE user_id = ? AND status = 'pending' AND due_at <= ?
	`, userID, by)
	if err != nil {
		return nil, fmt.Errorf("compliance due: %w", err)
	}
	defer rows.Close()

	var out []ComplianceItem
	for rows.Next() {
		var c ComplianceItem
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.DueAt, &c.Status); err != nil {
			return nil, fmt.Errorf("scan compliance item: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Listing is a vacant property being advertised.
type Listing struct {
	ID           string
	UserID       string
	Address      string
	Status       string // active, let, withdrawn
	EnquiryCount int
	UpdatedAt    int64
}

// CreateListing inserts a listing.
func (db *DB) CreateListing(l *Listing) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Status == "" {
		l.Status = "active"
	}
	if l.UpdatedAt == 0 {
		l.UpdatedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO listings (id, user_id, address, status, enquiry_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, l.ID, l.UserID, l.Address, l.Status, l.EnquiryCount, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create listing: %w", err)
	}
	return nil
}

// ActiveListings returns a user's active listings.
func (db *DB) ActiveListings(userID string) ([]Listing, error) {
	rows, err := db.Query(`
		SELECT id, user_id, COALESCE(address, ''), status, enquiry_count, updated_at
		FROM listings WHERE user_id = ? AND status = 'active'
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("active listings: %w", err)
	}
	defer rows.Close()

	var out []Listing
	for rows.Next() {
		var l Listing
		if err := rows.Scan(&l.ID, &l.UserID, &l.Address, &l.Status, &l.EnquiryCount, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// TouchListing refreshes a listing's updated_at after a portal sync.
func (db *DB) TouchListing(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec("UPDATE listings SET updated_at = ? WHERE id = ?", now, id)
	if err != nil {
		return fmt.Errorf("touch listing: %w", err)
	}
	return nil
}

// MessageThread is a tenant/owner conversation thread.
type MessageThread struct {
	ID            string
	UserID        string
	TenancyID     string
	Subject       string
	LastInboundAt *int64
	Answered      bool
}

// CreateMessageThread inserts a message thread.
func (db *DB) CreateMessageThread(m *MessageThread) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	answered := 0
	if m.Answered {
		answered = 1
	}
	_, err := db.Exec(`
		INSERT INTO message_threads (id, user_id, tenancy_id, subject, last_inbound_at, answered)
		VALUES (?, ?, NULLIF(?, ''), ?, ?, ?)
	`, m.ID, m.UserID, m.TenancyID, m.Subject, m.LastInboundAt, answered)
	if err != nil {
		return fmt.Errorf("create message thread: %w", err)
	}
	return nil
}

// UnansweredThreads returns threads with inbound messages awaiting a reply.
func (db *DB) UnansweredThreads(userID string) ([]MessageThread, error) {
	rows, err := db.Query(`
		SELECT id, user_id, COALESCE(tenancy_id, ''), COALESCE(subject, ''), last_inbound_at, answered
		FROM message_threads WHERE user_id = ? AND answered = 0 AND last_inbound_at IS NOT NULL
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("unanswered threads: %w", err)
	}
	defer rows.Close()

	var out []MessageThread
	for rows.Next() {
		var m MessageThread
		var lastInbound sql.NullInt64
		var answered int
		if err := rows.Scan(&m.ID, &m.UserID, &m.TenancyID, &m.Subject, &lastInbound, &answered); err != nil {
			return nil, fmt.Errorf("scan message thread: %w", err)
		}
		if lastInbound.Valid {
			m.LastInboundAt = &lastInbound.Int64
		}
		m.Answered = answered != 0
		out = append(out, m)
	}
	return out, rows.Err()
}
