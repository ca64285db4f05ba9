package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/sigreer/jbodplan/internal/hba"
)

// ControllerOutput returns the stored controller output of host, or nil
func (d *DB) ControllerOutput(host string, vendor hba.Vendor) (*hba.Output, error) {
	var out hba.Output
	err := d.conn.QueryRow(`
		SELECT logical_output, physical_output, fetched_at
		FROM controller_info WHERE host = ? AND vendor = ?
	`, host, string(vendor)).Scan(&out.Logical, &out.Physical, &out.FetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query controller info for %s: %w", host, err)
	}
	return &out, nil
}

// SaveControllerOutput replaces the stored controller output of host
func (d *DB) SaveControllerOutput(host string, vendor hba.Vendor, out *hba.Output) error {
	fetched := out.FetchedAt
	if fetched.IsZero() {
		fetched = d.now()
	}
	_, err := d.conn.Exec(`
		INSERT INTO controller_info (host, vendor, logical_output, physical_output, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(host, vendor) DO UPDATE SET
			logical_output = excluded.logical_output,
			physical_output = excluded.physical_output,
			fetched_at = excluded.fetched_at
	`, host, string(vendor), out.Logical, out.Physical, fetched.UTC())
	if err != nil {
		return fmt.Errorf("failed to store controller info for %s: %w", host, err)
	}
	return nil
}

var _ hba.Store = (*DB)(nil)
