package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator provides database schema validation functionality
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"rooms":             "Room catalog",
		"room_members":      "Room rosters",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies column types match what the room store scans
func (v *SchemaValidator) ValidateTableStructure() error {
	roomColumns := map[string]string{
		"seq":        "INTEGER",
		"id":         "TEXT",
		"name":       "TEXT",
		"created_at": "DATETIME",
	}
	if err := v.validateColumns("rooms", roomColumns); err != nil {
		return fmt.Errorf("rooms table structure invalid: %w", err)
	}

	memberColumns := map[string]string{
		"seq":       "INTEGER",
		"room_id":   "TEXT",
		"username":  "TEXT",
		"joined_at": "DATETIME",
	}
	if err := v.validateColumns("room_members", memberColumns); err != nil {
		return fmt.Errorf("room_members table structure invalid: %w", err)
	}

	return nil
}

// ValidateIndexes verifies that roster lookups are indexed
func (v *SchemaValidator) ValidateIndexes() error {
	exists, err := v.objectExists("index", "idx_room_members_room")
	if err != nil {
		return fmt.Errorf("error checking index idx_room_members_room: %w", err)
	}
	if !exists {
		return fmt.Errorf("required index idx_room_members_room does not exist")
	}
	return nil
}

// ValidateConstraints verifies that roster invariants are enforced by the schema
// FUNCTIONAL DISCOVERY: The unique (room_id, username) pair is what keeps a
// username on a roster at most once
func (v *SchemaValidator) ValidateConstraints() error {
	const probeRoom = "__constraint_probe__"

	_, err := v.db.Exec(`INSERT INTO room_members (room_id, username) VALUES (?, 'probe')`, probeRoom)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM room_members WHERE room_id = ?", probeRoom)
		return fmt.Errorf("foreign key constraint not enforced: room_members.room_id")
	}

	if _, err := v.db.Exec(`INSERT INTO rooms (id, name, created_at) VALUES (?, 'probe', CURRENT_TIMESTAMP)`, probeRoom); err != nil {
		return fmt.Errorf("failed to create probe room: %w", err)
	}
	defer func() {
		_, _ = v.db.Exec("DELETE FROM room_members WHERE room_id = ?", probeRoom)
		_, _ = v.db.Exec("DELETE FROM rooms WHERE id = ?", probeRoom)
	}()

	if _, err := v.db.Exec(`INSERT INTO room_members (room_id, username) VALUES (?, 'probe')`, probeRoom); err != nil {
		return fmt.Errorf("failed to insert probe member: %w", err)
	}
	if _, err := v.db.Exec(`INSERT INTO room_members (room_id, username) VALUES (?, 'probe')`, probeRoom); err == nil {
		return fmt.Errorf("unique constraint not enforced: room_members(room_id, username)")
	}

	return nil
}

func (v *SchemaValidator) objectExists(objectType, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		objectType, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid, notNull, pk int
		var name, dataType string
		var defaultValue interface{}

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return nil
}
