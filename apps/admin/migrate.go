package main

import (
	"path/filepath"

	"github.com/pressly/goose"

	"github.com/trezcool/elimu/core"
)

var gooseRunFunc = goose.Run // mockable

// migrate runs a goose command ("up", "down", "status", ...) against the
// configured database.
func (cli *commandLine) migrate(args []string) error {
	arguments := make([]string, 0)
	if len(args) > 1 {
		arguments = append(arguments, args[1:]...)
	}
	dir := filepath.Join(core.Getwd(), "migrations")
	return gooseRunFunc(args[0], cli.db.DB, dir, arguments...)
}
