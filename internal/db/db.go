package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrNotClaimed = errors.New("queued message is not claimed")

	// ErrAlreadyQueued is returned when a live queued message already exists
	// for the same content item and recipient.
	ErrAlreadyQueued = errors.New("message already queued for this content and recipient")
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, conn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, conn)
	if err != nil {
		return nil, err
	}

	return &Store{Pool: pool}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) Close() {
	s.Pool.Close()
}
