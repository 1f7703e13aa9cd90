package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Message is a persisted chat payload. Body holds the serialized frame
// exactly as it was fanned out.
type Message struct {
	ID        int32
	RoomID    int32
	Body      string
	CreatedAt time.Time
}

// MessageRepo persists chat messages.
type MessageRepo struct{}

// Create inserts a message for the given room key.
func (MessageRepo) Create(ctx context.Context, q Querier, body string, roomID int32) (Message, error) {
	var m Message
	err := q.QueryRow(ctx,
		`INSERT INTO message (message, room_id) VALUES ($1, $2) RETURNING id, room_id, message, created_at`,
		body, roomID,
	).Scan(&m.ID, &m.RoomID, &m.Body, &m.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// Read returns the newest limit messages for a room in ascending id order,
// so callers can replay them oldest first.
func (MessageRepo) Read(ctx context.Context, q Querier, roomID int32, limit int32) ([]Message, error) {
	rows, err := q.Query(ctx, `
		SELECT id, room_id, message, created_at FROM (
			SELECT id, room_id, message, created_at
			FROM message
			WHERE room_id = $1
			ORDER BY id DESC
			LIMIT $2
		) recent
		ORDER BY id ASC`,
		roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Delete removes a message by id.
func (MessageRepo) Delete(ctx context.Context, q Querier, id int32) error {
	tag, err := q.Exec(ctx, `DELETE FROM message WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecentPayloads returns the newest limit message bodies for a room,
// oldest first. This feeds the history replay on join.
func (g *Gateway) RecentPayloads(ctx context.Context, roomID int32, limit int32) ([]string, error) {
	msgs, err := g.Messages.Read(ctx, g.pool, roomID, limit)
	if err != nil {
		return nil, err
	}

	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Body
	}
	return out, nil
}

// SaveMessage persists a chat payload inside one transaction. beforeCommit
// runs between the insert and the commit (the session publishes to the hub
// there); its failure rolls the insert back.
func (g *Gateway) SaveMessage(ctx context.Context, roomID int32, body string, beforeCommit func() error) (Message, error) {
	tx, err := g.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Message{}, fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	msg, err := g.Messages.Create(ctx, tx, body, roomID)
	if err != nil {
		return Message{}, err
	}

	if beforeCommit != nil {
		if err := beforeCommit(); err != nil {
			return Message{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("commit save: %w", err)
	}
	return msg, nil
}
