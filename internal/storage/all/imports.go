// Package all registers every built-in storage backend. Import it for side
// effects from the binary's wiring layer:
//
//	import _ "tally/internal/storage/all"
package all

import (
	_ "tally/internal/storage/mssql"
	_ "tally/internal/storage/mysql"
	_ "tally/internal/storage/postgres"
	_ "tally/internal/storage/sqlite"
)
