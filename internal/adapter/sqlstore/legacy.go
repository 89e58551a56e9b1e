package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
)

const legacyUpgradeStep = "legacy_schema_upgrade"

// ErrIncompatibleSchema is returned when the database holds tables that
// neither the embedded migrations nor the legacy upgrade recognize.
var ErrIncompatibleSchema = errors.New("incompatible database schema")

// legacyTables lists the tables of an untracked database in drop order,
// children first.
var legacyTables = []string{"sessions", "resources", "land_tiles", "world_meta", "users"}

var legacyColumns = map[string][]string{
	"users":      {"id", "username", "password_hash", "created_at"},
	"world_meta": {"id", "width", "height", "created_at", "updated_at"},
	"land_tiles": {"x", "y", "owner_user_id", "terrain"},
	"resources":  {"user_id", "power", "max_power", "last_tick"},
}

var legacySessionColumns = []string{"token", "user_id", "created_at", "expires_at"}

// upgradeLegacySchema converts a database written before migrations were
// tracked. Such databases store user and world timestamps as TEXT, session
// and tick times as REAL seconds, and have no world version. Every table is
// rebuilt from the initial migration and its rows copied across; sessions
// from builds without expires_at cannot be carried over and are dropped.
func upgradeLegacySchema(ctx context.Context, db *sql.DB, d Dialect, initialName, initialSQL string, allowDestructive bool) error {
	applied, err := isApplied(ctx, db, d, initialName)
	if err != nil {
		return fmt.Errorf("check migration %s: %w", initialName, err)
	}
	if applied {
		return nil
	}

	present := make(map[string][]string)
	for _, table := range legacyTables {
		ok, err := tableExists(ctx, db, d, table)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		cols, err := tableColumns(ctx, db, d, table)
		if err != nil {
			return err
		}
		present[table] = cols
	}
	if len(present) == 0 {
		return nil
	}
	if !d.legacy {
		return fmt.Errorf("%w: %s tables exist but %s was never applied", ErrIncompatibleSchema, d.Name, initialName)
	}

	var problems []string
	for _, table := range []string{"users", "world_meta", "land_tiles", "resources"} {
		cols, ok := present[table]
		if !ok {
			problems = append(problems, "missing table "+table)
			continue
		}
		if missing := missingColumns(cols, legacyColumns[table]); len(missing) > 0 {
			problems = append(problems, fmt.Sprintf("%s lacks %s", table, strings.Join(missing, ", ")))
		}
	}
	if containsColumn(present["world_meta"], "version") {
		problems = append(problems, "world_meta already has version")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrIncompatibleSchema, strings.Join(problems, "; "))
	}

	sessionCols, hasSessions := present["sessions"]
	keepSessions := hasSessions && len(missingColumns(sessionCols, legacySessionColumns)) == 0

	effect := "rewrites every table"
	if hasSessions && !keepSessions {
		effect += " and drops all sessions"
	}
	if !allowDestructive {
		return fmt.Errorf("%w: %s %s; set ALLOW_DESTRUCTIVE_MIGRATIONS=true to proceed", ErrDestructiveMigration, legacyUpgradeStep, effect)
	}
	log.Printf("[store] running destructive migration %s: %s", legacyUpgradeStep, effect)

	return inTx(ctx, db, func(tx *sql.Tx) error {
		for _, table := range legacyTables {
			if _, ok := present[table]; !ok {
				continue
			}
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO legacy_%s", table, table)); err != nil {
				return fmt.Errorf("rename %s: %w", table, err)
			}
		}
		if _, err := tx.ExecContext(ctx, initialSQL); err != nil {
			return fmt.Errorf("exec migration %s: %w", initialName, err)
		}

		copies := []string{
			`INSERT INTO users (id, username, password_hash, created_at)
SELECT id, username, password_hash, ` + legacyMillis("created_at") + ` FROM legacy_users`,
			`INSERT INTO world_meta (id, width, height, version, created_at, updated_at)
SELECT id, width, height, 0, ` + legacyMillis("created_at") + `, ` + legacyMillis("updated_at") + ` FROM legacy_world_meta`,
			`INSERT INTO land_tiles (x, y, owner_user_id, terrain)
SELECT x, y,
    CASE WHEN owner_user_id IN (SELECT id FROM users) THEN owner_user_id END,
    CASE WHEN terrain = 'water' THEN 'water' ELSE 'land' END
FROM legacy_land_tiles`,
			`INSERT INTO resources (user_id, power, max_power, last_tick)
SELECT user_id, power, max_power, ` + legacyMillis("last_tick") + `
FROM legacy_resources WHERE user_id IN (SELECT id FROM users)`,
		}
		if keepSessions {
			copies = append(copies, `INSERT INTO sessions (token, user_id, created_at, expires_at)
SELECT token, user_id, `+legacyMillis("created_at")+`, `+legacyMillis("expires_at")+`
FROM legacy_sessions WHERE user_id IN (SELECT id FROM users)`)
		}
		for _, stmt := range copies {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("copy legacy rows: %w", err)
			}
		}

		for _, table := range legacyTables {
			if _, ok := present[table]; !ok {
				continue
			}
			if _, err := tx.ExecContext(ctx, "DROP TABLE legacy_"+table); err != nil {
				return fmt.Errorf("drop legacy %s: %w", table, err)
			}
		}
		if err := recordMigration(ctx, tx, d, initialName); err != nil {
			return err
		}
		return recordMigration(ctx, tx, d, legacyUpgradeStep)
	})
}

// legacyMillis converts a TEXT datetime or REAL seconds column to Unix ms.
func legacyMillis(col string) string {
	return fmt.Sprintf(`COALESCE(CASE typeof(%[1]s)
    WHEN 'text' THEN CAST(strftime('%%s', %[1]s) AS INTEGER) * 1000
    ELSE CAST(ROUND(%[1]s * 1000) AS INTEGER) END, 0)`, col)
}

func tableColumns(ctx context.Context, db *sql.DB, d Dialect, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, d.Rebind(d.columns), table)
	if err != nil {
		return nil, fmt.Errorf("inspect columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("inspect columns of %s: %w", table, err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

func missingColumns(have, want []string) []string {
	var missing []string
	for _, c := range want {
		if !containsColumn(have, c) {
			missing = append(missing, c)
		}
	}
	return missing
}

func containsColumn(cols []string, name string) bool {
	for _, c := range cols {
		if c == name {
			return true
		}
	}
	return false
}
