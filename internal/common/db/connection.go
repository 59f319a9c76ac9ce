package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/lib/pq"
	"github.com/tethys-dataset-services/internal/common/logger"
)

type DB struct {
	conn   *sql.DB
	logger logger.Logger
}

func New(ctx context.Context, connStr string, log logger.Logger) (*DB, error) {
	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log = logger.OrNop(log)
	log.Info("Database connection established")

	return &DB{
		conn:   conn,
		logger: log,
	}, nil
}

// NewFromConn wraps an already opened connection pool.
func NewFromConn(conn *sql.DB, log logger.Logger) *DB {
	return &DB{conn: conn, logger: logger.OrNop(log)}
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Params are the parts of a postgres:// URL a GeoServer PostGIS store needs.
type Params struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// ParseURL splits a postgres:// or postgresql:// URL. The port defaults to
// 5432.
func ParseURL(raw string) (Params, error) {
	if _, err := pq.ParseURL(raw); err != nil {
		return Params{}, fmt.Errorf("invalid database url: %w", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Params{}, fmt.Errorf("invalid database url: %w", err)
	}
	p := Params{
		Host:     u.Hostname(),
		Port:     u.Port(),
		Database: strings.TrimPrefix(u.Path, "/"),
		User:     u.User.Username(),
	}
	p.Password, _ = u.User.Password()
	if p.Port == "" {
		p.Port = "5432"
	}
	if p.Host == "" || p.Database == "" {
		return Params{}, fmt.Errorf("invalid database url: host and database are required")
	}
	return p, nil
}

// ConnectionString returns the lib/pq key/value form of a postgres URL.
func ConnectionString(raw string) (string, error) {
	dsn, err := pq.ParseURL(raw)
	if err != nil {
		return "", fmt.Errorf("invalid database url: %w", err)
	}
	return dsn, nil
}
