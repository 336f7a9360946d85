package db

import (
	"fmt"
	"io"
	"io/fs"
	"strconv"
)

// RunMigrateCommand executes `trackwatch migrate <action> [version]` against
// the database at dbPath, writing human-readable output to out.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return fmt.Errorf("missing migrate action")
	}
	action := args[0]
	if action == "help" {
		PrintMigrateHelp(out)
		return nil
	}

	// Open without migrating so the command, not startup, owns the schema.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	migrations := MigrationsFS()

	versionArg := func() (int, error) {
		if len(args) < 2 {
			return 0, fmt.Errorf("usage: trackwatch migrate %s <version_number>", action)
		}
		v, err := strconv.Atoi(args[1])
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid version %q", args[1])
		}
		return v, nil
	}

	switch action {
	case "up":
		if err := database.MigrateUp(migrations); err != nil {
			return err
		}
		fmt.Fprintln(out, "All migrations applied")
	case "down":
		if err := database.MigrateDown(migrations); err != nil {
			return err
		}
		fmt.Fprintln(out, "Rolled back one migration")
	case "status":
		return printMigrateStatus(database, migrations, out)
	case "version":
		v, err := versionArg()
		if err != nil {
			return err
		}
		if err := database.MigrateTo(migrations, uint(v)); err != nil {
			return err
		}
	case "force":
		v, err := versionArg()
		if err != nil {
			return err
		}
		if err := database.MigrateForce(migrations, v); err != nil {
			return err
		}
	case "baseline":
		v, err := versionArg()
		if err != nil {
			return err
		}
		if err := database.BaselineAtVersion(uint(v)); err != nil {
			return err
		}
	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action: %s", action)
	}

	version, dirty, err := database.MigrateVersion(migrations)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func printMigrateStatus(database *DB, migrations fs.FS, out io.Writer) error {
	version, dirty, err := database.MigrateVersion(migrations)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	latest, err := LatestMigrationVersion(migrations)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "=== Migration Status ===")
	fmt.Fprintf(out, "Current version: %d\n", version)
	fmt.Fprintf(out, "Latest version:  %d\n", latest)
	fmt.Fprintf(out, "Dirty: %v\n", dirty)
	if dirty {
		fmt.Fprintln(out, "WARNING: a migration failed mid-execution. Inspect the database, then run")
		fmt.Fprintln(out, "'trackwatch migrate force <version>' to mark the last good version.")
	} else if version < latest {
		fmt.Fprintf(out, "%d migration(s) pending; run 'trackwatch migrate up'\n", latest-version)
	}
	return nil
}

// PrintMigrateHelp writes usage for the migrate subcommand.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: trackwatch migrate <action> [version]

Actions:
  up                 apply all pending migrations
  down               roll back the most recent migration
  status             show current and latest versions
  version <n>        migrate up or down to version n
  force <n>          mark version n as applied without running it (recovery only)
  baseline <n>       record version n on a database created without migrations
  help               show this message
`)
}
