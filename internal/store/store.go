package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// ErrNoRows is re-exported so handlers don't import pgx directly.
var ErrNoRows = pgx.ErrNoRows

// User represents an authenticated API user.
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Name        *string    `json:"name,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// UserToken represents an issued JWT for logout/invalidation.
type UserToken struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	TokenHash string     `json:"token_hash"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Session represents one teaching session: a user explaining a topic aloud.
type Session struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	MainTopic      string     `json:"main_topic"`
	Status         string     `json:"status"` // active, completed, abandoned
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	LastActivityAt time.Time  `json:"last_activity_at"`
}

// SessionSubtopic is the persisted coverage state of one subtopic.
type SessionSubtopic struct {
	Name          string     `json:"name"`
	HasDefinition bool       `json:"has_definition"`
	HasMechanism  bool       `json:"has_mechanism"`
	HasExample    bool       `json:"has_example"`
	CoveredAt     *time.Time `json:"covered_at,omitempty"`
	Position      int        `json:"position"`
}

// Utterance is one transcript line: either the user's speech or a prompt the
// coach spoke back.
type Utterance struct {
	Speaker   string    `json:"speaker"` // "user" or "coach"
	Text      string    `json:"text"`
	Sequence  int       `json:"sequence"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionDetail bundles a session with its subtopics and transcript.
type SessionDetail struct {
	Session
	Subtopics  []SessionSubtopic `json:"subtopics"`
	Utterances []Utterance       `json:"utterances"`
}

// ============================================================================
// User operations
// ============================================================================

// GetUserByAPIKeyHash looks up a user by the SHA256 hash of their API key.
func (s *Store) GetUserByAPIKeyHash(ctx context.Context, keyHash string) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		SELECT id, email, name, last_login_at, created_at, updated_at
		FROM users
		WHERE api_key_hash = $1
	`, keyHash).Scan(&u.ID, &u.Email, &u.Name, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByID retrieves a user by ID.
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		SELECT id, email, name, last_login_at, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.Name, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser creates a new user keyed by their API key hash.
func (s *Store) CreateUser(ctx context.Context, email, apiKeyHash string) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		INSERT INTO users (email, api_key_hash)
		VALUES ($1, $2)
		RETURNING id, email, name, last_login_at, created_at, updated_at
	`, email, apiKeyHash).Scan(&u.ID, &u.Email, &u.Name, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// TouchUserLogin updates last_login_at after a successful token exchange.
func (s *Store) TouchUserLogin(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE users SET last_login_at = NOW() WHERE id = $1
	`, userID)
	return err
}

// ============================================================================
// Token operations
// ============================================================================

// CreateToken records an issued JWT by hash so it can be revoked later.
func (s *Store) CreateToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
	`, userID, tokenHash, expiresAt)
	return err
}

// RevokeToken revokes a token by hash.
func (s *Store) RevokeToken(ctx context.Context, tokenHash string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE user_tokens SET revoked_at = NOW() WHERE token_hash = $1
	`, tokenHash)
	return err
}

// IsTokenValid checks that a token exists, is not revoked and has not expired.
func (s *Store) IsTokenValid(ctx context.Context, tokenHash string) (bool, error) {
	var valid bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM user_tokens
			WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > NOW()
		)
	`, tokenHash).Scan(&valid)
	return valid, err
}

// ============================================================================
// Session operations
// ============================================================================

// CreateSession creates a session together with its subtopic rows in one
// transaction. Subtopic positions preserve catalog order.
func (s *Store) CreateSession(ctx context.Context, userID, mainTopic string, subtopics []string) (*Session, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var sess Session
	err = tx.QueryRow(ctx, `
		INSERT INTO sessions (user_id, main_topic, status)
		VALUES ($1, $2, 'active')
		RETURNING id, user_id, main_topic, status, started_at, ended_at, last_activity_at
	`, userID, mainTopic).Scan(
		&sess.ID, &sess.UserID, &sess.MainTopic, &sess.Status,
		&sess.StartedAt, &sess.EndedAt, &sess.LastActivityAt,
	)
	if err != nil {
		return nil, err
	}

	for i, name := range subtopics {
		_, err = tx.Exec(ctx, `
			INSERT INTO session_subtopics (session_id, name, position)
			VALUES ($1, $2, $3)
		`, sess.ID, name, i)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, main_topic, status, started_at, ended_at, last_activity_at
		FROM sessions
		WHERE id = $1
	`, id).Scan(
		&sess.ID, &sess.UserID, &sess.MainTopic, &sess.Status,
		&sess.StartedAt, &sess.EndedAt, &sess.LastActivityAt,
	)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListSessionsByUser lists a user's sessions, newest first.
func (s *Store) ListSessionsByUser(ctx context.Context, userID string, limit int) ([]Session, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, main_topic, status, started_at, ended_at, last_activity_at
		FROM sessions
		WHERE user_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Session{}
	for rows.Next() {
		var sess Session
		if err := rows.Scan(
			&sess.ID, &sess.UserID, &sess.MainTopic, &sess.Status,
			&sess.StartedAt, &sess.EndedAt, &sess.LastActivityAt,
		); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// UpdateSessionStatus transitions a session. Terminal statuses also set ended_at.
func (s *Store) UpdateSessionStatus(ctx context.Context, id, status string, at time.Time) error {
	var endedAt *time.Time
	if status == "completed" || status == "abandoned" {
		endedAt = &at
	}
	_, err := s.db.Exec(ctx, `
		UPDATE sessions
		SET status = $1,
		    ended_at = COALESCE($2, ended_at),
		    last_activity_at = $3
		WHERE id = $4
	`, status, endedAt, at, id)
	return err
}

// TouchSession bumps last_activity_at so the reaper knows the session is live.
func (s *Store) TouchSession(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE sessions SET last_activity_at = NOW() WHERE id = $1
	`, id)
	return err
}

// GetSessionDetail retrieves a session with its subtopics and transcript.
func (s *Store) GetSessionDetail(ctx context.Context, id string) (*SessionDetail, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	out := SessionDetail{Session: *sess}

	out.Subtopics, err = s.GetSessionSubtopics(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT speaker, text, sequence, created_at
		FROM session_utterances
		WHERE session_id = $1
		ORDER BY sequence ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var u Utterance
		if err := rows.Scan(&u.Speaker, &u.Text, &u.Sequence, &u.CreatedAt); err != nil {
			return nil, err
		}
		out.Utterances = append(out.Utterances, u)
	}
	return &out, rows.Err()
}

// GetSessionSubtopics returns the coverage rows for a session in catalog order.
func (s *Store) GetSessionSubtopics(ctx context.Context, sessionID string) ([]SessionSubtopic, error) {
	rows, err := s.db.Query(ctx, `
		SELECT name, has_definition, has_mechanism, has_example, covered_at, position
		FROM session_subtopics
		WHERE session_id = $1
		ORDER BY position ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []SessionSubtopic
	for rows.Next() {
		var sub SessionSubtopic
		if err := rows.Scan(&sub.Name, &sub.HasDefinition, &sub.HasMechanism,
			&sub.HasExample, &sub.CoveredAt, &sub.Position); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// SaveSubtopic upserts the coverage state of one subtopic. Fields merge with
// OR so a reconnecting session can never regress persisted coverage;
// covered_at is set once all three fields are confirmed and never cleared.
func (s *Store) SaveSubtopic(ctx context.Context, sessionID string, sub SessionSubtopic) error {
	var coveredAt *time.Time
	if sub.HasDefinition && sub.HasMechanism && sub.HasExample {
		now := time.Now().UTC()
		coveredAt = &now
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO session_subtopics (session_id, name, has_definition, has_mechanism, has_example, covered_at, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, name) DO UPDATE SET
			has_definition = session_subtopics.has_definition OR EXCLUDED.has_definition,
			has_mechanism = session_subtopics.has_mechanism OR EXCLUDED.has_mechanism,
			has_example = session_subtopics.has_example OR EXCLUDED.has_example,
			covered_at = COALESCE(session_subtopics.covered_at, EXCLUDED.covered_at)
	`, sessionID, sub.Name, sub.HasDefinition, sub.HasMechanism, sub.HasExample, coveredAt, sub.Position)
	return err
}

// InsertUtterance appends a transcript line to a session.
func (s *Store) InsertUtterance(ctx context.Context, sessionID string, u Utterance) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO session_utterances (id, session_id, speaker, text, sequence)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)
	`, sessionID, u.Speaker, u.Text, u.Sequence)
	return err
}

// ListStaleActiveSessions returns active sessions with no activity since the
// cutoff, oldest first.
func (s *Store) ListStaleActiveSessions(ctx context.Context, cutoff time.Time) ([]*Session, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, main_topic, status, started_at, ended_at, last_activity_at
		FROM sessions
		WHERE status = 'active' AND last_activity_at < $1
		ORDER BY last_activity_at ASC
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.MainTopic, &sess.Status,
			&sess.StartedAt, &sess.EndedAt, &sess.LastActivityAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// ============================================================================
// Session event operations
// ============================================================================

// SessionEvent is one logged engine event for a session.
type SessionEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	EventType string    `json:"event_type"`
	EventData []byte    `json:"event_data"`
	CreatedAt time.Time `json:"created_at"`
}

// ListSessionEvents retrieves events for a session, oldest first.
func (s *Store) ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]SessionEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, event_type, event_data, created_at
		FROM session_events
		WHERE session_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []SessionEvent
	for rows.Next() {
		var e SessionEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.EventType, &e.EventData, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
