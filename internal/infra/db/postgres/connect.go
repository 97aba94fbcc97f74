package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Pool tunes the connection pool. Zero fields take the defaults.
type Pool struct {
	MaxOpen      int
	MaxIdle      int
	MaxLifetime  time.Duration
	PingAttempts int
}

func (p Pool) withDefaults() Pool {
	if p.MaxOpen == 0 {
		p.MaxOpen = 25
	}
	if p.MaxIdle == 0 {
		p.MaxIdle = 10
	}
	if p.MaxLifetime == 0 {
		p.MaxLifetime = 30 * time.Minute
	}
	if p.PingAttempts == 0 {
		p.PingAttempts = 1
	}
	return p
}

// Connect opens the pool and pings until the server answers or the
// attempts run out, waiting one second longer after every failure.
func Connect(ctx context.Context, dsn string, pool Pool) (*sql.DB, error) {
	pool = pool.withDefaults()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(pool.MaxOpen)
	db.SetMaxIdleConns(pool.MaxIdle)
	db.SetConnMaxLifetime(pool.MaxLifetime)

	for attempt := 1; ; attempt++ {
		ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(ctx2)
		cancel()
		if err == nil {
			return db, nil
		}
		if attempt >= pool.PingAttempts {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
			continue
		}
		break
	}
	db.Close()
	return nil, fmt.Errorf("postgres ping: %w", err)
}
