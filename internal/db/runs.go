package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sigreer/jbodplan/internal/disk"
)

// RecordRun stores the result of a discovery started at started over hosts
// and refreshes the drive inventory for every disk with a serial.
func (d *DB) RecordRun(dm *disk.DeviceMap, hosts []string, started time.Time) (*Run, error) {
	run := &Run{
		ID:         uuid.NewString(),
		Hosts:      hosts,
		NodeCount:  len(dm.Nodes),
		DiskCount:  dm.DiskCount(),
		StartedAt:  started.UTC(),
		FinishedAt: d.now().UTC(),
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs (id, hosts, node_count, disk_count, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, strings.Join(hosts, ","), run.NodeCount, run.DiskCount, run.StartedAt, run.FinishedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}

	for _, nodeName := range dm.SortedNodeNames() {
		node := dm.Nodes[nodeName]
		for _, name := range node.SortedDiskNames() {
			dsk := node.Disks[name]
			_, err := tx.Exec(`
				INSERT INTO run_disks (run_id, node, name, disk_type, model, size_bytes, location, serial, is_virtual)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, run.ID, nodeName, dsk.Name, dsk.Type.Name(), nullString(dsk.Model), dsk.Size,
				dsk.Location, nullString(dsk.Serial), node.Virtual)
			if err != nil {
				return nil, fmt.Errorf("failed to record disk %s:%s: %w", nodeName, dsk.Name, err)
			}

			if dsk.Serial == "" {
				continue
			}
			if err := upsertDrive(tx, &DriveRecord{
				Serial:     dsk.Serial,
				Node:       nodeName,
				DeviceName: dsk.Name,
				Model:      dsk.Model,
				DriveType:  dsk.Type.Name(),
				SizeBytes:  dsk.Size,
				Location:   dsk.Location,
				LastRunID:  run.ID,
			}, run.FinishedAt); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit run: %w", err)
	}
	return run, nil
}

// GetRun returns a run by id, or nil if it does not exist
func (d *DB) GetRun(id string) (*Run, error) {
	row := d.conn.QueryRow(`
		SELECT id, hosts, node_count, disk_count, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// GetRecentRuns returns the most recent runs, newest first
func (d *DB) GetRecentRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := d.conn.Query(`
		SELECT id, hosts, node_count, disk_count, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRunDisks returns the disks of a run ordered by node and name
func (d *DB) GetRunDisks(runID string) ([]*DiskRecord, error) {
	rows, err := d.conn.Query(`
		SELECT id, run_id, node, name, disk_type, model, size_bytes, location, serial, is_virtual
		FROM run_disks
		WHERE run_id = ?
		ORDER BY node, name
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run disks: %w", err)
	}
	defer rows.Close()

	var disks []*DiskRecord
	for rows.Next() {
		var rec DiskRecord
		var model, serial sql.NullString
		err := rows.Scan(&rec.ID, &rec.RunID, &rec.Node, &rec.Name, &rec.DiskType,
			&model, &rec.SizeBytes, &rec.Location, &serial, &rec.Virtual)
		if err != nil {
			return nil, fmt.Errorf("failed to scan disk: %w", err)
		}
		rec.Model = model.String
		rec.Serial = serial.String
		disks = append(disks, &rec)
	}
	return disks, rows.Err()
}

// RunDeviceMap rebuilds the device map recorded by a run, without
// partitions, so it can be planned again.
func (d *DB) RunDeviceMap(runID string) (*disk.DeviceMap, error) {
	records, err := d.GetRunDisks(runID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("run %s has no disks", runID)
	}

	dm := disk.NewDeviceMap()
	for _, rec := range records {
		node, ok := dm.Nodes[rec.Node]
		if !ok {
			node = disk.NewNode(rec.Node)
			node.Virtual = rec.Virtual
			dm.AddNode(node)
		}
		typ, err := disk.ParseType(rec.DiskType)
		if err != nil {
			return nil, fmt.Errorf("disk %s:%s: %w", rec.Node, rec.Name, err)
		}
		dsk := disk.NewDisk(rec.Name, typ, rec.Model, rec.SizeBytes)
		dsk.Location = rec.Location
		dsk.Serial = rec.Serial
		node.Disks[rec.Name] = dsk
	}
	return dm, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var hosts string
	if err := s.Scan(&run.ID, &hosts, &run.NodeCount, &run.DiskCount, &run.StartedAt, &run.FinishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	if hosts != "" {
		run.Hosts = strings.Split(hosts, ",")
	}
	return &run, nil
}
