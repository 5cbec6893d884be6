// Package buildledger implements an optional, best-effort audit trail of
// BuildKey resolutions, backed by PostgreSQL. It exists for CI fleets that
// want to answer "which BuildKeys did we resolve this week, and from which
// host" — it is never load-bearing for correctness; internal/buildcache's
// content-addressed filesystem cache remains the sole source of truth
// (spec.md §9 "global state... limited to the cache-directory path").
//
// Connection pooling and schema bootstrap are adapted from the teacher's
// internal/db/database.go; the 82-table application schema there is
// replaced with the single narrow table this core actually needs.
package buildledger

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/software-mansion/scarb-macro-host/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS resolved_builds (
	build_key      text PRIMARY KEY,
	plugin_name    text NOT NULL,
	plugin_version text NOT NULL,
	host_triple    text NOT NULL,
	resolved_at    timestamptz NOT NULL,
	artifact_path  text NOT NULL
);
`

// Ledger wraps a PostgreSQL connection pool scoped to the resolved_builds
// table. A nil *Ledger is valid and treated as "ledger disabled" by every
// method, matching the teacher's Cache.IsEnabled nil-receiver pattern.
type Ledger struct {
	db *sql.DB
}

// Open connects to dsn (the value of BUILD_LEDGER_DSN) and ensures the
// schema exists. Callers should treat a non-nil error as "run without a
// ledger" rather than fatal — see Record's doc comment.
func Open(dsn string) (*Ledger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("buildledger: open: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("buildledger: ping: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("buildledger: migrate: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close releases the connection pool. Safe to call on a nil *Ledger.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Entry is one resolved BuildKey worth recording.
type Entry struct {
	BuildKeyHex   string
	PluginName    string
	PluginVersion string
	HostTriple    string
	ResolvedAt    time.Time
	ArtifactPath  string
}

// Record upserts an Entry. Failures are logged and swallowed rather than
// returned, per spec.md §6: this is an observability side-channel, never
// load-bearing for correctness, so a flaky ledger must never fail a build.
func (l *Ledger) Record(e Entry) {
	if l == nil || l.db == nil {
		return
	}
	_, err := l.db.Exec(`
		INSERT INTO resolved_builds (build_key, plugin_name, plugin_version, host_triple, resolved_at, artifact_path)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (build_key) DO UPDATE SET
			resolved_at = EXCLUDED.resolved_at,
			artifact_path = EXCLUDED.artifact_path
	`, e.BuildKeyHex, e.PluginName, e.PluginVersion, e.HostTriple, e.ResolvedAt, e.ArtifactPath)
	if err != nil {
		logger.Build().Warn().Err(err).Str("build_key", e.BuildKeyHex).Msg("buildledger: failed to record resolution")
	}
}
