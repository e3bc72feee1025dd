// uowctl migrates and checks the database of the unit of work PostgreSQL engine.
package main

import "github.com/go-arrower/uow/internal/cli"

func main() {
	cli.Execute()
}
