package sim

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/chazu/graft/pkg/enumext"
)

// SaveFile is the host's native save format: drone loadouts in SQLite,
// upgrade types stored by rendered name.
type SaveFile struct {
	db   *sql.DB
	path string
}

// OpenSave opens or creates a save file.
func OpenSave(path string) (*SaveFile, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening save: %w", err)
	}

	_, err = db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS drones (
		id   INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		loot INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS upgrades (
		drone_id          INTEGER NOT NULL REFERENCES drones(id),
		slot              INTEGER NOT NULL,
		type              TEXT NOT NULL,
		break_probability REAL NOT NULL,
		broken            INTEGER NOT NULL,
		missions          INTEGER NOT NULL,
		PRIMARY KEY (drone_id, slot)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return &SaveFile{db: db, path: path}, nil
}

// Close closes the database connection.
func (f *SaveFile) Close() error {
	if f.db != nil {
		return f.db.Close()
	}
	return nil
}

// Save replaces the file's contents with the world's drones.
func (f *SaveFile) Save(ctx context.Context, w *World) error {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("saving: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM upgrades"); err != nil {
		return fmt.Errorf("clearing upgrades: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM drones"); err != nil {
		return fmt.Errorf("clearing drones: %w", err)
	}

	for _, d := range w.Drones {
		_, err := tx.ExecContext(ctx, "INSERT INTO drones (id, name, loot) VALUES (?, ?, ?)", d.ID, d.Name, d.Loot)
		if err != nil {
			return fmt.Errorf("saving drone %s: %w", d, err)
		}
		for slot, up := range d.Upgrades {
			if up == nil {
				continue
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO upgrades (drone_id, slot, type, break_probability, broken, missions) VALUES (?, ?, ?, ?, ?, ?)",
				d.ID, slot, w.Enum.String(up.Type()), up.probability, boolInt(up.broken), up.missions,
			)
			if err != nil {
				return fmt.Errorf("saving %s slot %d: %w", d, slot, err)
			}
		}
	}
	return tx.Commit()
}

// Load replaces the world's drones with the file's. Upgrades are rebuilt
// through the host factory. Slots whose type no longer parses are left
// empty and counted in the returned skip count.
func (f *SaveFile) Load(ctx context.Context, w *World) (skipped int, err error) {
	for len(w.Drones) > 0 {
		w.RemoveDrone(w.Drones[0])
	}

	rows, err := f.db.QueryContext(ctx, "SELECT id, name, loot FROM drones ORDER BY id")
	if err != nil {
		return 0, fmt.Errorf("querying drones: %w", err)
	}
	byID := make(map[int]*Drone)
	for rows.Next() {
		d := &Drone{}
		if err := rows.Scan(&d.ID, &d.Name, &d.Loot); err != nil {
			rows.Close()
			return 0, fmt.Errorf("reading drone: %w", err)
		}
		w.Drones = append(w.Drones, d)
		byID[d.ID] = d
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("reading drones: %w", err)
	}

	rows, err = f.db.QueryContext(ctx,
		"SELECT drone_id, slot, type, break_probability, broken, missions FROM upgrades ORDER BY drone_id, slot")
	if err != nil {
		return 0, fmt.Errorf("querying upgrades: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			droneID, slot, missions int
			typeName                string
			probability             float64
			broken                  bool
		)
		if err := rows.Scan(&droneID, &slot, &typeName, &probability, &broken, &missions); err != nil {
			return skipped, fmt.Errorf("reading upgrade: %w", err)
		}
		d, ok := byID[droneID]
		if !ok {
			return skipped, fmt.Errorf("upgrade for missing drone %d", droneID)
		}

		t, err := w.Enum.Parse(typeName)
		if err != nil {
			if errors.Is(err, enumext.ErrUnknownVariant) {
				log.Warningf("save %s: %s slot %d: %s", f.path, d, slot, err)
				skipped++
				continue
			}
			return skipped, err
		}
		up, err := w.CreateUpgrade(t)
		if err != nil {
			if errors.Is(err, ErrUnknownType) {
				log.Warningf("save %s: %s slot %d: %s", f.path, d, slot, err)
				skipped++
				continue
			}
			return skipped, err
		}
		up.probability, up.broken, up.missions = probability, broken, missions
		if err := w.Equip(d, slot, up); err != nil {
			return skipped, err
		}
	}
	return skipped, rows.Err()
}
