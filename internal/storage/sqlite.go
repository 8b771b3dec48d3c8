package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gtbot/internal/meeting"
	"gtbot/internal/schedule"
	logx "gtbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./gtbot.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- users ---

func (s *sqliteStore) UpsertUser(ctx context.Context, u meeting.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, name, username, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, username=excluded.username`,
		u.ID, u.Name, nullStr(u.Username), msOrNow(u.CreatedAt),
	)
	return err
}

func (s *sqliteStore) GetUser(ctx context.Context, id int64) (meeting.User, error) {
	var u meeting.User
	var username sql.NullString
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, username, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &username, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return meeting.User{}, meeting.ErrNotFound
	}
	if err != nil {
		return meeting.User{}, err
	}
	u.Username = username.String
	u.CreatedAt = fromMS(created)
	return u, nil
}

// --- meetings ---

const meetingCols = `id, topic, description, start_at, max_participants, location, host_id, created_at, updated_at, canceled_at`

func (s *sqliteStore) CreateMeeting(ctx context.Context, m *meeting.Meeting) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO meetings(topic, description, start_at, max_participants, location, host_id, created_at, updated_at, canceled_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		m.Topic, m.Description, toMS(m.StartAt), m.MaxParticipants, m.Location,
		m.HostID, msOrNow(m.CreatedAt), msOrNow(m.UpdatedAt), nullMS(m.CanceledAt),
	)
	if err != nil {
		return err
	}
	m.ID, err = res.LastInsertId()
	return err
}

func (s *sqliteStore) GetMeeting(ctx context.Context, id int64) (meeting.Meeting, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+meetingCols+` FROM meetings WHERE id = ?`, id)
	m, err := scanMeeting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return meeting.Meeting{}, meeting.ErrNotFound
	}
	return m, err
}

func (s *sqliteStore) UpdateMeeting(ctx context.Context, m meeting.Meeting) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE meetings SET topic=?, description=?, start_at=?, max_participants=?,
		 location=?, updated_at=?, canceled_at=? WHERE id=?`,
		m.Topic, m.Description, toMS(m.StartAt), m.MaxParticipants,
		m.Location, toMS(m.UpdatedAt), nullMS(m.CanceledAt), m.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return meeting.ErrNotFound
	}
	return err
}

func (s *sqliteStore) ListUpcomingMeetings(ctx context.Context, now time.Time) ([]meeting.Meeting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+meetingCols+` FROM meetings
		 WHERE canceled_at IS NULL AND start_at >= ?
		 ORDER BY start_at ASC`, toMS(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMeetings(rows)
}

func (s *sqliteStore) ListMeetingsForUser(ctx context.Context, userID int64) ([]meeting.Meeting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT m.`+strings.ReplaceAll(meetingCols, ", ", ", m.")+`
		 FROM meetings m
		 LEFT JOIN registrations r
		   ON r.meeting_id = m.id AND r.user_id = ? AND r.status != 'canceled'
		 WHERE m.host_id = ? OR r.id IS NOT NULL
		 ORDER BY m.start_at ASC`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMeetings(rows)
}

// --- registrations ---

func (s *sqliteStore) CreateRegistration(ctx context.Context, r *meeting.Registration) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO registrations(meeting_id, user_id, status, position, created_at)
		 VALUES(?,?,?,?,?)`,
		r.MeetingID, r.UserID, string(r.Status), r.Position, msOrNow(r.CreatedAt),
	)
	if err != nil {
		return err
	}
	r.ID, err = res.LastInsertId()
	return err
}

func (s *sqliteStore) ActiveRegistration(ctx context.Context, meetingID, userID int64) (meeting.Registration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, meeting_id, user_id, status, position, created_at
		 FROM registrations
		 WHERE meeting_id = ? AND user_id = ? AND status IN ('confirmed','waitlisted')
		 LIMIT 1`, meetingID, userID)
	r, err := scanRegistration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return meeting.Registration{}, meeting.ErrNotFound
	}
	return r, err
}

func (s *sqliteStore) ListRegistrations(ctx context.Context, meetingID int64, status meeting.RegStatus) ([]meeting.Registration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, meeting_id, user_id, status, position, created_at
		 FROM registrations
		 WHERE meeting_id = ? AND status = ?
		 ORDER BY position ASC, id ASC`, meetingID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []meeting.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateRegistration(ctx context.Context, r meeting.Registration) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE registrations SET status=?, position=? WHERE id=?`,
		string(r.Status), r.Position, r.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return meeting.ErrNotFound
	}
	return err
}

func (s *sqliteStore) CountConfirmed(ctx context.Context, meetingID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registrations WHERE meeting_id = ? AND status = 'confirmed'`,
		meetingID).Scan(&n)
	return n, err
}

// --- jobs ---

func (s *sqliteStore) CreateJob(ctx context.Context, j *schedule.Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, kind, meeting_id, fire_at, status, attempts, last_attempt_at, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		j.ID, string(j.Kind), j.MeetingID, toMS(j.FireAt), string(j.Status),
		j.Attempts, nullMS(j.LastAttemptAt), msOrNow(j.CreatedAt),
	)
	return err
}

func (s *sqliteStore) GetJob(ctx context.Context, id string) (schedule.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, meeting_id, fire_at, status, attempts, last_attempt_at, created_at
		 FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Job{}, schedule.ErrJobNotFound
	}
	return j, err
}

func (s *sqliteStore) ListPendingJobs(ctx context.Context) ([]schedule.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, meeting_id, fire_at, status, attempts, last_attempt_at, created_at
		 FROM jobs WHERE status = 'pending' ORDER BY fire_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SwapJobStatus(ctx context.Context, id string, from, to schedule.JobStatus, at time.Time) (bool, error) {
	var res sql.Result
	var err error
	if to == schedule.StatusFired {
		res, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET status=?, attempts=attempts+1, last_attempt_at=? WHERE id=? AND status=?`,
			string(to), toMS(at), id, string(from))
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET status=? WHERE id=? AND status=?`,
			string(to), id, string(from))
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	// Distinguish a lost race from a missing job.
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, schedule.ErrJobNotFound
	}
	return false, err
}

func (s *sqliteStore) CancelJobsForMeeting(ctx context.Context, meetingID int64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status='canceled' WHERE meeting_id = ? AND status = 'pending'`,
		meetingID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// --- scan/convert helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row rowScanner) (meeting.Meeting, error) {
	var m meeting.Meeting
	var start, created, updated int64
	var canceled sql.NullInt64
	err := row.Scan(&m.ID, &m.Topic, &m.Description, &start, &m.MaxParticipants,
		&m.Location, &m.HostID, &created, &updated, &canceled)
	if err != nil {
		return meeting.Meeting{}, err
	}
	m.StartAt = fromMS(start)
	m.CreatedAt = fromMS(created)
	m.UpdatedAt = fromMS(updated)
	if canceled.Valid {
		t := fromMS(canceled.Int64)
		m.CanceledAt = &t
	}
	return m, nil
}

func scanMeetings(rows *sql.Rows) ([]meeting.Meeting, error) {
	var out []meeting.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanRegistration(row rowScanner) (meeting.Registration, error) {
	var r meeting.Registration
	var status string
	var created int64
	err := row.Scan(&r.ID, &r.MeetingID, &r.UserID, &status, &r.Position, &created)
	if err != nil {
		return meeting.Registration{}, err
	}
	r.Status = meeting.RegStatus(status)
	r.CreatedAt = fromMS(created)
	return r, nil
}

func scanJob(row rowScanner) (schedule.Job, error) {
	var j schedule.Job
	var kind, status string
	var fire, created int64
	var lastAttempt sql.NullInt64
	err := row.Scan(&j.ID, &kind, &j.MeetingID, &fire, &status, &j.Attempts, &lastAttempt, &created)
	if err != nil {
		return schedule.Job{}, err
	}
	j.Kind = schedule.JobKind(kind)
	j.Status = schedule.JobStatus(status)
	j.FireAt = fromMS(fire)
	j.CreatedAt = fromMS(created)
	if lastAttempt.Valid {
		t := fromMS(lastAttempt.Int64)
		j.LastAttemptAt = &t
	}
	return j, nil
}

func toMS(t time.Time) int64 { return t.UnixMilli() }

func fromMS(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func msOrNow(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UnixMilli()
	}
	return t.UnixMilli()
}

func nullMS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
