package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	dbconfig "gridspace/pkg/database"
	"gridspace/pkg/interfaces"
	"gridspace/pkg/types"
)

// Manager implements interfaces.RoomStore on a memory-mode SQLite database
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	stopped      chan struct{} // closed when writeLoop exits
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
}

var _ interfaces.RoomStore = (*Manager)(nil)

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// NewManager opens the memory database, migrates it and starts the writer
func NewManager(config *dbconfig.Config) (*Manager, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	migrations := dbconfig.NewMigrationManager(db, dbconfig.EmbeddedMigrations())
	if err := migrations.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	if err := migrations.ValidateSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, config.WriteQueueSize),
		shutdown:     make(chan struct{}),
		stopped:      make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine makes every roster
	// read-modify-write atomic with respect to every other one
	manager.wg.Add(1)
	go manager.writeLoop()

	log.Info().Str("module", "database").Str("name", config.Name).Msg("room store ready")
	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()
	defer close(m.stopped)

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if isBusy(err) {
				// FUNCTIONAL DISCOVERY: A busy shared cache clears quickly; retry exactly once
				log.Warn().Str("module", "database").Err(err).Msg("write hit a busy database, retrying")
				time.Sleep(50 * time.Millisecond)
				err = op.operation(m.db)
			}
			op.result <- err

		case <-m.shutdown:
			log.Debug().Str("module", "database").Msg("write loop shutting down")
			m.drainPending()
			return
		}
	}
}

// drainPending fails every queued operation that will never run
func (m *Manager) drainPending() {
	for {
		select {
		case op := <-m.writeChannel:
			op.result <- ErrShuttingDown
		default:
			return
		}
	}
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timeout := time.NewTimer(m.config.WriteTimeout)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timeout.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrShuttingDown
	}

	// TECHNICAL DISCOVERY: A queued operation either runs or is drained, so
	// wait for its result instead of abandoning it
	select {
	case err := <-result:
		return err
	case <-m.stopped:
		select {
		case err := <-result:
			return err
		default:
			return ErrShuttingDown
		}
	}
}

// CreateRoom inserts a new room with an empty roster
func (m *Manager) CreateRoom(ctx context.Context, room *types.Room) error {
	if room == nil || room.ID == "" || room.Name == "" {
		return ErrInvalidRoom
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO rooms (id, name, created_at) VALUES (?, ?, ?)`,
			room.ID, room.Name, room.CreatedAt.UTC(),
		)
		if err != nil {
			var sqliteErr sqlite3.Error
			if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
				return fmt.Errorf("%w: %s", ErrDuplicateRoomID, room.ID)
			}
			return fmt.Errorf("failed to insert room: %w", err)
		}
		return nil
	})
}

// GetRoom retrieves a room with its roster in join order
func (m *Manager) GetRoom(ctx context.Context, roomID string) (*types.Room, error) {
	return loadRoom(ctx, m.db, roomID)
}

// ListRooms returns all rooms in creation order
func (m *Manager) ListRooms(ctx context.Context) ([]*types.Room, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id, name, created_at FROM rooms ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}

	rooms := []*types.Room{}
	index := make(map[string]*types.Room)
	for rows.Next() {
		room := &types.Room{Users: []string{}}
		if err := rows.Scan(&room.ID, &room.Name, &room.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan room row: %w", err)
		}
		rooms = append(rooms, room)
		index[room.ID] = room
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("error iterating room rows: %w", err)
	}
	_ = rows.Close()

	// TECHNICAL DISCOVERY: One pooled connection means the room cursor must be
	// closed before the roster query can run
	members, err := m.db.QueryContext(ctx, `SELECT room_id, username FROM room_members ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rosters: %w", err)
	}
	defer func() { _ = members.Close() }()

	for members.Next() {
		var roomID, username string
		if err := members.Scan(&roomID, &username); err != nil {
			return nil, fmt.Errorf("failed to scan member row: %w", err)
		}
		if room, ok := index[roomID]; ok {
			room.Users = append(room.Users, username)
		}
	}
	if err := members.Err(); err != nil {
		return nil, fmt.Errorf("error iterating member rows: %w", err)
	}

	return rooms, nil
}

// AddMember appends username to the roster unless already present
func (m *Manager) AddMember(ctx context.Context, roomID, username string) (*types.Room, error) {
	return m.mutateRoster(ctx, roomID,
		`INSERT OR IGNORE INTO room_members (room_id, username) VALUES (?, ?)`,
		roomID, username,
	)
}

// RemoveMember drops username from the roster if present
func (m *Manager) RemoveMember(ctx context.Context, roomID, username string) (*types.Room, error) {
	return m.mutateRoster(ctx, roomID,
		`DELETE FROM room_members WHERE room_id = ? AND username = ?`,
		roomID, username,
	)
}

// mutateRoster runs one roster statement and reloads the room in a single transaction
// FUNCTIONAL DISCOVERY: Existence check, mutation and reload share the
// transaction so the returned roster is exactly the committed one
func (m *Manager) mutateRoster(ctx context.Context, roomID, statement string, args ...interface{}) (*types.Room, error) {
	var room *types.Room

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms WHERE id = ?`, roomID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check room: %w", err)
		}
		if exists == 0 {
			return types.ErrRoomNotFound
		}

		if _, err := tx.ExecContext(ctx, statement, args...); err != nil {
			return fmt.Errorf("failed to update roster: %w", err)
		}

		loaded, err := loadRoom(ctx, tx, roomID)
		if err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit roster update: %w", err)
		}
		room = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

func loadRoom(ctx context.Context, q querier, roomID string) (*types.Room, error) {
	room := &types.Room{Users: []string{}}

	err := q.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM rooms WHERE id = ?`, roomID,
	).Scan(&room.ID, &room.Name, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to query room: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT username FROM room_members WHERE room_id = ? ORDER BY seq ASC`, roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query roster: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, fmt.Errorf("failed to scan member row: %w", err)
		}
		room.Users = append(room.Users, username)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating member rows: %w", err)
	}

	return room, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrManagerClosed
	}

	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// GetDB returns the underlying database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the writer and discards the memory database
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	log.Info().Str("module", "database").Msg("room store closed")
	return nil
}
