package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"wikitool/internal/config"
	"wikitool/migrations"
)

type command struct {
	help string
	// arg names the version argument the command requires, if any.
	arg string
	run func(db *sql.DB, version int64) error
}

var commands = map[string]command{
	"up":      {help: "Migrate to the latest version", run: func(db *sql.DB, _ int64) error { return goose.Up(db, ".") }},
	"up-one":  {help: "Migrate one version up", run: func(db *sql.DB, _ int64) error { return goose.UpByOne(db, ".") }},
	"up-to":   {help: "Migrate up to a version", arg: "version", run: func(db *sql.DB, v int64) error { return goose.UpTo(db, ".", v) }},
	"down":    {help: "Roll back one version", run: func(db *sql.DB, _ int64) error { return goose.Down(db, ".") }},
	"down-to": {help: "Roll back to a version", arg: "version", run: func(db *sql.DB, v int64) error { return goose.DownTo(db, ".", v) }},
	"redo":    {help: "Roll back and re-apply the latest version", run: func(db *sql.DB, _ int64) error { return goose.Redo(db, ".") }},
	"reset":   {help: "Roll back all migrations", run: func(db *sql.DB, _ int64) error { return goose.Reset(db, ".") }},
	"status":  {help: "Show migration status", run: func(db *sql.DB, _ int64) error { return goose.Status(db, ".") }},
	"version": {help: "Show current version", run: func(db *sql.DB, _ int64) error { return goose.Version(db, ".") }},
}

func main() {
	dbPath := flag.String("db", "", "path to the run history database (default from DATABASE_PATH or the config file)")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}
	cmd, ok := commands[args[0]]
	if !ok {
		log.Fatalf("unknown command: %s", args[0])
	}

	var version int64
	if cmd.arg != "" {
		if len(args) < 2 {
			log.Fatalf("%s needs a %s argument", args[0], cmd.arg)
		}
		v, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			log.Fatalf("invalid %s %q: %v", cmd.arg, args[1], err)
		}
		version = v
	}

	path := *dbPath
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		path = cfg.DatabasePath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Fatalf("create data directory: %v", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := migrations.Setup(); err != nil {
		log.Fatalf("setup migrations: %v", err)
	}
	if err := cmd.run(db, version); err != nil {
		log.Fatalf("%s: %v", args[0], err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: migrate [-db path] <command> [version]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := commands[name]
		label := name
		if c.arg != "" {
			label += " <" + c.arg + ">"
		}
		fmt.Fprintf(os.Stderr, "  %-18s %s\n", label, c.help)
	}
}
