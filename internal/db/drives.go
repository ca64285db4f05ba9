package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// upsertDrive inserts or refreshes a drive record. first_seen is kept
// from the original insert.
func upsertDrive(e execer, drive *DriveRecord, now time.Time) error {
	_, err := e.Exec(`
		INSERT INTO drives (
			serial, node, device_name, model, drive_type, size_bytes,
			location, last_run_id, first_seen, last_seen
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(serial) DO UPDATE SET
			node = excluded.node,
			device_name = excluded.device_name,
			model = COALESCE(excluded.model, model),
			drive_type = excluded.drive_type,
			size_bytes = COALESCE(excluded.size_bytes, size_bytes),
			location = excluded.location,
			last_run_id = excluded.last_run_id,
			last_seen = excluded.last_seen
	`,
		drive.Serial, drive.Node, drive.DeviceName, nullString(drive.Model), drive.DriveType,
		drive.SizeBytes, drive.Location, drive.LastRunID, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert drive %s: %w", drive.Serial, err)
	}
	return nil
}

const driveColumns = `id, serial, node, device_name, model, drive_type, size_bytes,
	location, last_run_id, first_seen, last_seen`

// GetDriveBySerial returns a drive by its serial number, or nil if unknown
func (d *DB) GetDriveBySerial(serial string) (*DriveRecord, error) {
	row := d.conn.QueryRow(`SELECT `+driveColumns+` FROM drives WHERE serial = ?`, serial)

	drive, err := scanDrive(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return drive, err
}

// GetAllDrives returns all known drives ordered by node and device name
func (d *DB) GetAllDrives() ([]*DriveRecord, error) {
	rows, err := d.conn.Query(`SELECT ` + driveColumns + ` FROM drives ORDER BY node, device_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query drives: %w", err)
	}
	defer rows.Close()

	var drives []*DriveRecord
	for rows.Next() {
		drive, err := scanDrive(rows)
		if err != nil {
			return nil, err
		}
		drives = append(drives, drive)
	}
	return drives, rows.Err()
}

func scanDrive(s scanner) (*DriveRecord, error) {
	var drive DriveRecord
	var node, deviceName, model, driveType, lastRunID sql.NullString
	var size, location sql.NullInt64

	err := s.Scan(
		&drive.ID, &drive.Serial, &node, &deviceName, &model, &driveType,
		&size, &location, &lastRunID, &drive.FirstSeen, &drive.LastSeen,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan drive: %w", err)
	}

	drive.Node = node.String
	drive.DeviceName = deviceName.String
	drive.Model = model.String
	drive.DriveType = driveType.String
	drive.SizeBytes = size.Int64
	drive.Location = int(location.Int64)
	drive.LastRunID = lastRunID.String
	return &drive, nil
}
