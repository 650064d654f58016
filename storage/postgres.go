package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"event-api/domain"
)

// Schema creates the users relation. Ids come from a sequence so they are
// never reused after a delete.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id    BIGSERIAL PRIMARY KEY,
	name  TEXT NOT NULL,
	email TEXT NOT NULL
)`

// Postgres stores users in a relational table through a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and verifies the connection.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

var _ domain.UserStore = (*Postgres)(nil)

// EnsureSchema applies Schema. It is safe to run repeatedly.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, Schema)
	return err
}

func (p *Postgres) ListAll(ctx context.Context) ([]domain.User, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, email
		FROM users
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		var (
			id          int64
			name, email string
		)
		if err := rows.Scan(&id, &name, &email); err != nil {
			return nil, err
		}
		users = append(users, domain.NewUser(id, name, email))
	}
	return users, rows.Err()
}

func (p *Postgres) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	var name, email string
	err := p.pool.QueryRow(ctx, `
		SELECT name, email
		FROM users
		WHERE id = $1
	`, id).Scan(&name, &email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u := domain.NewUser(id, name, email)
	return &u, nil
}

func (p *Postgres) Insert(ctx context.Context, name, email string) (domain.User, error) {
	var id int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO users (name, email)
		VALUES ($1, $2)
		RETURNING id
	`, name, email).Scan(&id)
	if err != nil {
		return domain.User{}, err
	}
	return domain.NewUser(id, name, email), nil
}

func (p *Postgres) UpdateByID(ctx context.Context, id int64, name, email string) (domain.User, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE users
		SET name = $2, email = $3
		WHERE id = $1
	`, id, name, email)
	if err != nil {
		return domain.User{}, err
	}
	if tag.RowsAffected() == 0 {
		return domain.User{}, domain.ErrNotFound
	}
	return domain.NewUser(id, name, email), nil
}

func (p *Postgres) DeleteByID(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if p == nil || p.pool == nil {
		return errors.New("postgres not configured")
	}
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() {
	if p != nil && p.pool != nil {
		p.pool.Close()
	}
}
