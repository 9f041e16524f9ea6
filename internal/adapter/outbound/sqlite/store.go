// Package sqlite implements the record store on a SQLite database file via
// the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Ident-Gate/Identgate/internal/domain/scim"
)

// schema creates both tables. userName uniqueness is case-insensitive to
// match SCIM resolution and the policy evaluator; timestamps are RFC 3339
// text; list-valued attributes are JSON text columns.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id                TEXT PRIMARY KEY,
    user_name         TEXT NOT NULL COLLATE NOCASE UNIQUE,
    given_name        TEXT NOT NULL DEFAULT '',
    family_name       TEXT NOT NULL DEFAULT '',
    emails            TEXT NOT NULL DEFAULT '[]',
    active            INTEGER NOT NULL DEFAULT 1,
    dept              TEXT NOT NULL DEFAULT '',
    risk_score        REAL NOT NULL DEFAULT 0,
    groups_json       TEXT NOT NULL DEFAULT '[]',
    password_verifier TEXT NOT NULL DEFAULT '',
    created           TEXT NOT NULL,
    last_modified     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS groups (
    id            TEXT PRIMARY KEY,
    display_name  TEXT NOT NULL UNIQUE,
    members       TEXT NOT NULL DEFAULT '[]',
    created       TEXT NOT NULL,
    last_modified TEXT NOT NULL
);
`

// Store implements scim.RecordStore on SQLite. SQLite allows one writer at a
// time; writes serialize on a mutex so concurrent writers queue instead of
// surfacing SQLITE_BUSY. Reads run concurrently.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %s: %w", path, err)
	}
	// modernc.org/sqlite serializes on a single connection; more would just
	// contend on the file lock.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping reports database health.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const userColumns = `id, user_name, given_name, family_name, emails, active,
	dept, risk_score, groups_json, password_verifier, created, last_modified`

// CreateUser inserts a user; a userName collision is ErrConflict.
func (s *Store) CreateUser(ctx context.Context, u *scim.User) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	emails, groups, err := encodeUserLists(u)
	if err != nil {
		return err
	}
	var given, family string
	if u.Name != nil {
		given, family = u.Name.GivenName, u.Name.FamilyName
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, user_name, given_name, family_name, emails,
			active, dept, risk_score, groups_json, password_verifier,
			created, last_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.UserName, given, family, emails,
		boolToInt(u.Active), u.Dept, u.RiskScore, groups, u.PasswordVerifier,
		formatTime(u.Meta.Created), formatTime(u.Meta.LastModified),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: userName %q already exists", scim.ErrConflict, u.UserName)
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*scim.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", scim.ErrNotFound, id)
	}
	return u, err
}

// GetUserByUserName fetches a user by userName, case-insensitively via the
// column's NOCASE collation.
func (s *Store) GetUserByUserName(ctx context.Context, userName string) (*scim.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE user_name = ?`, userName)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: userName %q", scim.ErrNotFound, userName)
	}
	return u, err
}

// ListUsers returns all users ordered by creation time.
func (s *Store) ListUsers(ctx context.Context) ([]scim.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created, id`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []scim.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdateUser replaces all mutable columns of a user row.
func (s *Store) UpdateUser(ctx context.Context, u *scim.User) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	emails, groups, err := encodeUserLists(u)
	if err != nil {
		return err
	}
	var given, family string
	if u.Name != nil {
		given, family = u.Name.GivenName, u.Name.FamilyName
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET user_name = ?, given_name = ?, family_name = ?,
			emails = ?, active = ?, dept = ?, risk_score = ?, groups_json = ?,
			password_verifier = ?, last_modified = ?
		WHERE id = ?`,
		u.UserName, given, family, emails, boolToInt(u.Active), u.Dept,
		u.RiskScore, groups, u.PasswordVerifier,
		formatTime(u.Meta.LastModified), u.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: userName %q already exists", scim.ErrConflict, u.UserName)
		}
		return fmt.Errorf("updating user: %w", err)
	}
	return requireRow(res, scim.ErrNotFound, "user", u.ID)
}

// DeleteUser removes a user row.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return requireRow(res, scim.ErrNotFound, "user", id)
}

// CreateGroup inserts a group; a displayName collision is ErrConflict.
func (s *Store) CreateGroup(ctx context.Context, g *scim.Group) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	members, err := json.Marshal(g.Members)
	if err != nil {
		return fmt.Errorf("encoding members: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO groups (id, display_name, members, created, last_modified)
		VALUES (?, ?, ?, ?, ?)`,
		g.ID, g.DisplayName, string(members),
		formatTime(g.Meta.Created), formatTime(g.Meta.LastModified),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: displayName %q already exists", scim.ErrConflict, g.DisplayName)
		}
		return fmt.Errorf("inserting group: %w", err)
	}
	return nil
}

// GetGroup fetches a group by id.
func (s *Store) GetGroup(ctx context.Context, id string) (*scim.Group, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, members, created, last_modified FROM groups WHERE id = ?`, id)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: group %s", scim.ErrNotFound, id)
	}
	return g, err
}

// GetGroupByDisplayName fetches a group by its exact displayName.
func (s *Store) GetGroupByDisplayName(ctx context.Context, displayName string) (*scim.Group, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, members, created, last_modified FROM groups WHERE display_name = ?`, displayName)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: displayName %q", scim.ErrNotFound, displayName)
	}
	return g, err
}

// ListGroups returns all groups ordered by creation time.
func (s *Store) ListGroups(ctx context.Context) ([]scim.Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, display_name, members, created, last_modified FROM groups ORDER BY created, id`)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	defer rows.Close()

	var groups []scim.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

// UpdateGroup replaces all mutable columns of a group row.
func (s *Store) UpdateGroup(ctx context.Context, g *scim.Group) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	members, err := json.Marshal(g.Members)
	if err != nil {
		return fmt.Errorf("encoding members: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE groups SET display_name = ?, members = ?, last_modified = ?
		WHERE id = ?`,
		g.DisplayName, string(members), formatTime(g.Meta.LastModified), g.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: displayName %q already exists", scim.ErrConflict, g.DisplayName)
		}
		return fmt.Errorf("updating group: %w", err)
	}
	return requireRow(res, scim.ErrNotFound, "group", g.ID)
}

// DeleteGroup removes a group row.
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting group: %w", err)
	}
	return requireRow(res, scim.ErrNotFound, "group", id)
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanUser decodes one user row into an owned struct.
func scanUser(sc scanner) (*scim.User, error) {
	var (
		u             scim.User
		given, family string
		emails        string
		active        int
		groups        string
		created       string
		lastModified  string
	)
	err := sc.Scan(&u.ID, &u.UserName, &given, &family, &emails, &active,
		&u.Dept, &u.RiskScore, &groups, &u.PasswordVerifier, &created, &lastModified)
	if err != nil {
		return nil, err
	}

	u.Schemas = []string{scim.SchemaUser}
	u.Active = active != 0
	if given != "" || family != "" {
		u.Name = &scim.Name{GivenName: given, FamilyName: family,
			Formatted: strings.TrimSpace(given + " " + family)}
	}
	if err := json.Unmarshal([]byte(emails), &u.Emails); err != nil {
		return nil, fmt.Errorf("decoding emails for user %s: %w", u.ID, err)
	}
	if err := json.Unmarshal([]byte(groups), &u.Groups); err != nil {
		return nil, fmt.Errorf("decoding groups for user %s: %w", u.ID, err)
	}
	u.Meta = scim.Meta{
		ResourceType: "User",
		Created:      parseTime(created),
		LastModified: parseTime(lastModified),
		Location:     "/scim/v2/Users/" + u.ID,
	}
	return &u, nil
}

// scanGroup decodes one group row into an owned struct.
func scanGroup(sc scanner) (*scim.Group, error) {
	var (
		g            scim.Group
		members      string
		created      string
		lastModified string
	)
	if err := sc.Scan(&g.ID, &g.DisplayName, &members, &created, &lastModified); err != nil {
		return nil, err
	}

	g.Schemas = []string{scim.SchemaGroup}
	if err := json.Unmarshal([]byte(members), &g.Members); err != nil {
		return nil, fmt.Errorf("decoding members for group %s: %w", g.ID, err)
	}
	if g.Members == nil {
		g.Members = []scim.Member{}
	}
	g.Meta = scim.Meta{
		ResourceType: "Group",
		Created:      parseTime(created),
		LastModified: parseTime(lastModified),
		Location:     "/scim/v2/Groups/" + g.ID,
	}
	return &g, nil
}

func encodeUserLists(u *scim.User) (emails, groups string, err error) {
	e, err := json.Marshal(u.Emails)
	if err != nil {
		return "", "", fmt.Errorf("encoding emails: %w", err)
	}
	g, err := json.Marshal(u.Groups)
	if err != nil {
		return "", "", fmt.Errorf("encoding groups: %w", err)
	}
	return string(e), string(g), nil
}

// requireRow converts a zero-row write into the given sentinel.
func requireRow(res sql.Result, sentinel error, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", sentinel, kind, id)
	}
	return nil
}

// isUniqueViolation detects SQLITE_CONSTRAINT_UNIQUE from the driver.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Compile-time interface verification.
var _ scim.RecordStore = (*Store)(nil)
