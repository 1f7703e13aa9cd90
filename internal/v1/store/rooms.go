package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/driftroom/driftroom/internal/v1/identity"
)

// Room is a materialized room row. The serial id is the message foreign
// key; the uuid is the public identifier clients connect with.
type Room struct {
	ID        int32
	UUID      uuid.UUID
	CreatedAt time.Time
}

// RoomRepo persists rooms. Methods take a Querier so they run equally
// inside transactions and in autocommit mode.
type RoomRepo struct{}

// Create inserts a room. A nil id mints a fresh identifier; the promotion
// path passes the reserved one.
func (RoomRepo) Create(ctx context.Context, q Querier, id *uuid.UUID) (Room, error) {
	target := identity.NewRoomID()
	if id != nil {
		target = *id
	}

	var (
		r    Room
		pgID pgtype.UUID
	)
	err := q.QueryRow(ctx,
		`INSERT INTO room (uuid) VALUES ($1) RETURNING id, uuid, created_at`,
		pgtype.UUID{Bytes: target, Valid: true},
	).Scan(&r.ID, &pgID, &r.CreatedAt)
	if err != nil {
		return Room{}, fmt.Errorf("insert room: %w", err)
	}
	r.UUID = uuid.UUID(pgID.Bytes)
	return r, nil
}

// Read lists rooms, optionally filtered to one identifier.
func (RoomRepo) Read(ctx context.Context, q Querier, id *uuid.UUID) ([]Room, error) {
	query := `SELECT id, uuid, created_at FROM room`
	var args []any
	if id != nil {
		query += ` WHERE uuid = $1`
		args = append(args, pgtype.UUID{Bytes: *id, Valid: true})
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select rooms: %w", err)
	}
	defer rows.Close()

	var out []Room
	for rows.Next() {
		var (
			r    Room
			pgID pgtype.UUID
		)
		if err := rows.Scan(&r.ID, &pgID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		r.UUID = uuid.UUID(pgID.Bytes)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Delete removes a room by key.
func (RoomRepo) Delete(ctx context.Context, q Querier, id int32) error {
	tag, err := q.Exec(ctx, `DELETE FROM room WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindRoom returns the room with the given identifier, ErrNotFound when no
// row matches.
func (g *Gateway) FindRoom(ctx context.Context, id uuid.UUID) (Room, error) {
	rooms, err := g.Rooms.Read(ctx, g.pool, &id)
	if err != nil {
		return Room{}, err
	}
	if len(rooms) == 0 {
		return Room{}, ErrNotFound
	}
	return rooms[0], nil
}

// PromoteRoom materializes a reserved identifier inside one transaction.
// beforeCommit runs between the insert and the commit, so the caller can
// clear the reservation inside the transaction window; its failure rolls
// the insert back.
func (g *Gateway) PromoteRoom(ctx context.Context, id uuid.UUID, beforeCommit func() error) (Room, error) {
	tx, err := g.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Room{}, fmt.Errorf("begin promotion: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	room, err := g.Rooms.Create(ctx, tx, &id)
	if err != nil {
		return Room{}, err
	}

	if beforeCommit != nil {
		if err := beforeCommit(); err != nil {
			return Room{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Room{}, fmt.Errorf("commit promotion: %w", err)
	}
	return room, nil
}
