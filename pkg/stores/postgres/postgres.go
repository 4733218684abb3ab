// Package postgres adapts the relational store running as a compose service:
// cluster-wide logical dumps and replays through the container, readiness checks
// and connection cutover through a direct connection.
package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"

	"github.com/nais/hostops/pkg/runtime"
)

const (
	DefaultService = "postgres"
	DefaultUser    = "postgres"

	// MaintenanceDatabase is the database a full cluster dump is replayed through.
	MaintenanceDatabase = "postgres"
)

// Session is the subset of a connection pool the store needs.
type Session interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...interface{}) error
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Close()
}

type pool struct {
	*pgxpool.Pool
}

func (p pool) Exec(ctx context.Context, sql string, args ...interface{}) error {
	_, err := p.Pool.Exec(ctx, sql, args...)
	return err
}

// Connect opens a pool against dsn.
func Connect(ctx context.Context, dsn string) (Session, error) {
	p, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return pool{p}, nil
}

type Store struct {
	Services runtime.Services
	// Compose service name of the database container.
	Name string
	// Superuser dumps and replays run as.
	User string
	// DSN reachable from the host, used for readiness and connection cutover.
	DSN string

	// Dial defaults to Connect.
	Dial func(ctx context.Context, dsn string) (Session, error)
}

func (s *Store) Service() string {
	if len(s.Name) == 0 {
		return DefaultService
	}
	return s.Name
}

func (s *Store) user() string {
	if len(s.User) == 0 {
		return DefaultUser
	}
	return s.User
}

func (s *Store) dial(ctx context.Context) (Session, error) {
	if len(s.DSN) == 0 {
		return nil, fmt.Errorf("no connection string configured for %s", s.Service())
	}
	dial := s.Dial
	if dial == nil {
		dial = Connect
	}
	return dial(ctx, s.DSN)
}

func (s *Store) Running(ctx context.Context) (bool, error) {
	return s.Services.Running(ctx, s.Service())
}

func (s *Store) Start(ctx context.Context) error {
	return s.Services.StartService(ctx, s.Service())
}

// DumpArgs is the command producing a full logical dump of every database in the cluster.
// The dump drops and recreates databases when replayed.
func (s *Store) DumpArgs() []string {
	return []string{"pg_dumpall", "--username", s.user(), "--clean", "--if-exists"}
}

// ReplayArgs is the command reading a dump on standard input.
// A single database replay stops at the first failing statement. A cluster dump always
// produces a few errors, so it runs to the end and its errors are checked afterwards.
func (s *Store) ReplayArgs(database string) []string {
	args := []string{"psql", "--username", s.user(), "--quiet", "--no-psqlrc"}
	if len(database) == 0 {
		return append(args, "--dbname", MaintenanceDatabase)
	}
	return append(args, "--dbname", database, "--set", "ON_ERROR_STOP=1")
}

// Errors every cluster dump replay reports: the dump drops and creates the role psql runs as.
var expectedReplayError = regexp.MustCompile(`ERROR:\s+(current user cannot be dropped|role ".*" already exists)`)

// CheckReplayOutput logs what psql wrote to standard error and fails when any
// statement failed for another reason than the expected role errors.
func CheckReplayOutput(output string) error {
	var failed []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		log.Warnf("psql: %s", line)
		if strings.Contains(line, "ERROR:") && !expectedReplayError.MatchString(line) {
			failed = append(failed, line)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d statements failed, first: %s", len(failed), failed[0])
	}
	return nil
}

// DumpAll streams a full logical dump of the cluster into w.
func (s *Store) DumpAll(ctx context.Context, w io.Writer) error {
	return s.Services.Exec(ctx, s.Service(), s.DumpArgs(), nil, w, nil)
}

// Replay feeds dump to psql inside the database container.
func (s *Store) Replay(ctx context.Context, database string, dump io.Reader) error {
	stderr := &bytes.Buffer{}
	err := s.Services.Exec(ctx, s.Service(), s.ReplayArgs(database), dump, io.Discard, stderr)
	if err != nil {
		return err
	}
	return CheckReplayOutput(stderr.String())
}

// Ready performs a single readiness probe.
func (s *Store) Ready(ctx context.Context) error {
	session, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer session.Close()
	return session.Ping(ctx)
}

// TerminateStatement terminates every other backend, limited to one database when named.
func TerminateStatement(database string) (string, []interface{}) {
	sql := `SELECT count(pg_terminate_backend(pid)) FROM pg_stat_activity WHERE pid <> pg_backend_pid() AND backend_type = 'client backend'`
	if len(database) == 0 {
		return sql, nil
	}
	return sql + ` AND datname = $1`, []interface{}{database}
}

// TerminateConnections closes other active connections and returns how many were terminated.
func (s *Store) TerminateConnections(ctx context.Context, database string) (int, error) {
	session, err := s.dial(ctx)
	if err != nil {
		return 0, err
	}
	defer session.Close()

	sql, args := TerminateStatement(database)
	var terminated int
	err = session.QueryRow(ctx, sql, args...).Scan(&terminated)
	if err != nil {
		return 0, fmt.Errorf("terminate connections: %w", err)
	}
	return terminated, nil
}

// OpenDatabasesStatement lists the databases anyone may connect to.
const OpenDatabasesStatement = `SELECT coalesce(array_agg(datname ORDER BY datname), '{}') FROM pg_database ` +
	`WHERE datallowconn AND NOT datistemplate AND has_database_privilege('public', oid, 'CONNECT')`

const existingDatabasesStatement = `SELECT coalesce(array_agg(datname), '{}') FROM pg_database`

// BlockConnections stops new connections to database until the returned function runs.
// With an empty name every database open to the public is blocked, as a cluster replay
// drops and recreates all of them. Superusers can still connect.
func (s *Store) BlockConnections(ctx context.Context, database string) (func(context.Context) error, error) {
	session, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	databases := []string{database}
	if len(database) == 0 {
		err = session.QueryRow(ctx, OpenDatabasesStatement).Scan(&databases)
		if err != nil {
			return nil, fmt.Errorf("list databases: %w", err)
		}
	}

	blocked := make([]string, 0, len(databases))
	unblock := func(ctx context.Context) error {
		return s.allowConnections(ctx, blocked)
	}
	for _, name := range databases {
		err = session.Exec(ctx, "REVOKE CONNECT ON DATABASE "+pq.QuoteIdentifier(name)+" FROM PUBLIC")
		if err != nil {
			if undoErr := unblock(context.WithoutCancel(ctx)); undoErr != nil {
				log.Errorf("Unable to allow connections again: %s", undoErr)
			}
			return nil, fmt.Errorf("revoke connect on %s: %w", name, err)
		}
		blocked = append(blocked, name)
	}
	log.Debugf("New connections to %s blocked", strings.Join(blocked, ", "))

	return unblock, nil
}

// allowConnections grants CONNECT again on those databases that still exist.
func (s *Store) allowConnections(ctx context.Context, databases []string) error {
	if len(databases) == 0 {
		return nil
	}
	session, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	var existing []string
	err = session.QueryRow(ctx, existingDatabasesStatement).Scan(&existing)
	if err != nil {
		return fmt.Errorf("list databases: %w", err)
	}
	exists := make(map[string]bool, len(existing))
	for _, name := range existing {
		exists[name] = true
	}

	var errs []error
	for _, name := range databases {
		if !exists[name] {
			log.Warnf("Database %s no longer exists after the restore", name)
			continue
		}
		err = session.Exec(ctx, "GRANT CONNECT ON DATABASE "+pq.QuoteIdentifier(name)+" TO PUBLIC")
		if err != nil {
			errs = append(errs, fmt.Errorf("grant connect on %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
