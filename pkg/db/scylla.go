package db

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/rs/zerolog"
)

type Session struct {
	*gocql.Session
}

func NewSession(hosts []string, keyspace string, log zerolog.Logger) (*Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second

	// Retry policy
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}

	log.Info().Strs("hosts", hosts).Str("keyspace", keyspace).Msg("Connected to ScyllaDB cluster")
	return &Session{Session: session}, nil
}

// EnsureKeyspace creates the keyspace through the system keyspace.
func EnsureKeyspace(hosts []string, keyspace string, log zerolog.Logger) error {
	sys, err := NewSession(hosts, "system", log)
	if err != nil {
		return fmt.Errorf("connect to system keyspace: %w", err)
	}
	defer sys.Close()

	stmt := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`, keyspace)
	if err := sys.Query(stmt).Exec(); err != nil {
		return fmt.Errorf("create keyspace %s: %w", keyspace, err)
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id text PRIMARY KEY,
		external_id text,
		name text,
		email text,
		image_url text,
		is_online boolean,
		last_seen timestamp,
		typing timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS users_by_external_id (
		external_id text PRIMARY KEY,
		user_id text
	)`,
	`CREATE TABLE IF NOT EXISTS presence (
		user_id text PRIMARY KEY,
		id text,
		last_seen timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id text PRIMARY KEY,
		is_group boolean,
		name text,
		last_message_id text,
		created_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS direct_pairs (
		pair_key text PRIMARY KEY,
		conversation_id text
	)`,
	`CREATE TABLE IF NOT EXISTS members_by_conversation (
		conversation_id text,
		user_id text,
		id text,
		PRIMARY KEY (conversation_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS members_by_user (
		user_id text,
		conversation_id text,
		id text,
		PRIMARY KEY (user_id, conversation_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		conversation_id text,
		created_at timestamp,
		id text,
		sender_id text,
		receiver_id text,
		content text,
		deleted boolean,
		seen_by set<text>,
		is_read boolean,
		PRIMARY KEY (conversation_id, created_at, id)
	) WITH CLUSTERING ORDER BY (created_at ASC, id ASC)`,
	`CREATE TABLE IF NOT EXISTS messages_by_receiver (
		receiver_id text,
		conversation_id text,
		created_at timestamp,
		id text,
		is_read boolean,
		PRIMARY KEY (receiver_id, conversation_id, created_at, id)
	)`,
	`CREATE TABLE IF NOT EXISTS reactions (
		message_id text,
		user_id text,
		id text,
		emoji text,
		PRIMARY KEY (message_id, user_id, id)
	)`,
}

var dropOrder = []string{
	"reactions", "messages_by_receiver", "messages", "members_by_user",
	"members_by_conversation", "direct_pairs", "conversations", "presence",
	"users_by_external_id", "users",
}

// Migrate creates every table the chat store needs.
func Migrate(session *Session) error {
	for _, stmt := range schema {
		if err := session.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Drop removes every chat table.
func Drop(session *Session) error {
	for _, table := range dropOrder {
		if err := session.Query("DROP TABLE IF EXISTS " + table).Exec(); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	return nil
}
