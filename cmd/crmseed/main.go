// Command crmseed seeds a subset of records from one CRM org into another,
// resolving references between objects as it goes.
package main

import "github.com/seedbuddy/crmseed/cmd/crmseed/cmd"

func main() {
	cmd.Execute()
}
