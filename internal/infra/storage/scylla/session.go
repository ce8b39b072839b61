package scylla

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/gocql/gocql"

	"github.com/cedromirror/talkcart-web-sub008/internal/infra/config"
)

var keyspacePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// NewSession ensures schema exists and returns a connected Scylla session.
func NewSession(ctx context.Context, cfg config.Config, logger *slog.Logger) (*gocql.Session, error) {
	if !keyspacePattern.MatchString(cfg.ScyllaKeyspace) {
		return nil, fmt.Errorf("invalid keyspace name: %s", cfg.ScyllaKeyspace)
	}

	baseSession, err := newCluster(cfg, "").CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla: %w", err)
	}
	defer baseSession.Close()

	if err := ensureKeyspace(ctx, baseSession, cfg); err != nil {
		return nil, err
	}

	session, err := newCluster(cfg, cfg.ScyllaKeyspace).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to keyspace %s: %w", cfg.ScyllaKeyspace, err)
	}
	if err := ensureTables(ctx, session); err != nil {
		session.Close()
		return nil, err
	}
	if logger != nil {
		logger.Info("scylla connected", "hosts", cfg.ScyllaHosts, "keyspace", cfg.ScyllaKeyspace)
	}
	return session, nil
}

func newCluster(cfg config.Config, keyspace string) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.ScyllaHosts...)
	cluster.Timeout = cfg.ScyllaTimeout
	cluster.Keyspace = keyspace
	cluster.Consistency = cfg.ScyllaConsistency
	cluster.SerialConsistency = gocql.LocalSerial
	setAuth(cluster, cfg)
	return cluster
}

func ensureKeyspace(ctx context.Context, session *gocql.Session, cfg config.Config) error {
	replication := cfg.ScyllaReplication
	if replication <= 0 {
		replication = 1
	}
	cql := fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}",
		cfg.ScyllaKeyspace, replication,
	)
	if err := session.Query(cql).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create keyspace: %w", err)
	}
	return nil
}

var schema = []struct {
	name string
	cql  string
}{
	{"conversations", `
CREATE TABLE IF NOT EXISTS conversations (
	id text PRIMARY KEY,
	participant_a text,
	participant_b text,
	subject_ref text,
	status text,
	pinned boolean,
	muted boolean,
	priority text,
	assigned_admin text,
	tags list<text>,
	last_activity_at timestamp,
	last_message_ref text,
	last_message_preview text,
	last_message_sender text,
	unread map<text, int>,
	created_at timestamp,
	updated_at timestamp,
	closed_at timestamp,
	version bigint
)`},
	// conversation_keys holds one row per open conversation; LWT inserts keep it unique.
	{"conversation_keys", `
CREATE TABLE IF NOT EXISTS conversation_keys (
	open_key text PRIMARY KEY,
	conversation_id text,
	reserved_at timestamp
)`},
	{"user_conversations", `
CREATE TABLE IF NOT EXISTS user_conversations (
	user_id text,
	conversation_id text,
	PRIMARY KEY (user_id, conversation_id)
)`},
	{"messages", `
CREATE TABLE IF NOT EXISTS messages (
	conversation_id text,
	created_at timestamp,
	id text,
	sender_id text,
	content text,
	type text,
	is_edited boolean,
	is_deleted boolean,
	reply_to text,
	forwarded_from text,
	is_forwarded boolean,
	reactions text,
	updated_at timestamp,
	version bigint,
	PRIMARY KEY (conversation_id, created_at, id)
) WITH CLUSTERING ORDER BY (created_at DESC, id DESC)`},
	{"message_lookup", `
CREATE TABLE IF NOT EXISTS message_lookup (
	id text PRIMARY KEY,
	conversation_id text,
	created_at timestamp
)`},
}

func ensureTables(ctx context.Context, session *gocql.Session) error {
	for _, table := range schema {
		if err := session.Query(table.cql).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("create %s table: %w", table.name, err)
		}
	}
	return nil
}

func setAuth(cluster *gocql.ClusterConfig, cfg config.Config) {
	if cfg.ScyllaUsername == "" {
		return
	}
	cluster.Authenticator = gocql.PasswordAuthenticator{
		Username: cfg.ScyllaUsername,
		Password: cfg.ScyllaPassword,
	}
	// avoid long stalls on auth/connect
	cluster.ConnectTimeout = cfg.ScyllaTimeout
	cluster.Timeout = cfg.ScyllaTimeout
}
