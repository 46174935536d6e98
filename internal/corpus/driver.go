package corpus

import (
	"database/sql"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// DriverName is the database/sql driver used for corpus and DFA databases.
// It is the mattn SQLite driver with the corpus scalar functions registered on
// every connection.
const DriverName = "sqlite3_regexcorpus"

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("is_metachar_regex", HasMetacharacters, true)
		},
	})
}

const metachars = `.^$*+?][\|(){}`

// HasMetacharacters reports whether pattern contains a regex metacharacter.
// Patterns without one are plain string searches.
func HasMetacharacters(pattern string) bool {
	return strings.ContainsAny(pattern, metachars)
}
