package db

import (
	"database/sql"
	"fmt"
)

// RecordPartitionEvent stores the outcome of partitioning one disk
func (d *DB) RecordPartitionEvent(event *PartitionEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = d.now().UTC()
	}
	if event.Status == "" {
		event.Status = StatusSucceeded
		if event.Error != "" {
			event.Status = StatusFailed
		}
	}

	result, err := d.conn.Exec(`
		INSERT INTO partition_events (batch_id, node, disk, partitions, status, step, error, duration_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, event.BatchID, event.Node, event.Disk, event.Partitions, event.Status,
		nullString(event.Step), nullString(event.Error), event.Duration.Milliseconds(), event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		event.ID = id
	}
	return nil
}

const eventColumns = `id, batch_id, node, disk, partitions, status, step, error, duration_ms, timestamp`

// GetRecentEvents returns the most recent partition events across all disks
func (d *DB) GetRecentEvents(limit int) ([]*PartitionEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := d.conn.Query(`
		SELECT `+eventColumns+`
		FROM partition_events
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetBatchEvents returns the events of one partition invocation in order
func (d *DB) GetBatchEvents(batchID string) ([]*PartitionEvent, error) {
	rows, err := d.conn.Query(`
		SELECT `+eventColumns+`
		FROM partition_events
		WHERE batch_id = ?
		ORDER BY id
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetDiskEvents returns events for one disk of a node, newest first
func (d *DB) GetDiskEvents(node, diskName string, limit int) ([]*PartitionEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := d.conn.Query(`
		SELECT `+eventColumns+`
		FROM partition_events
		WHERE node = ? AND disk = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, node, diskName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query disk events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*PartitionEvent, error) {
	var events []*PartitionEvent
	for rows.Next() {
		var event PartitionEvent
		var step, errMsg sql.NullString
		var durationMS sql.NullInt64

		err := rows.Scan(
			&event.ID, &event.BatchID, &event.Node, &event.Disk, &event.Partitions,
			&event.Status, &step, &errMsg, &durationMS, &event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		event.Step = step.String
		event.Error = errMsg.String
		event.Duration = msDuration(durationMS.Int64)
		events = append(events, &event)
	}

	return events, rows.Err()
}
