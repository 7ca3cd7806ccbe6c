//go:build !cgo_sqlite

package main

import (
	"database/sql"
	"net/url"
	"strings"

	_ "modernc.org/sqlite"
)

const sqliteDriver = "sqlite"

// mattnPragmas are the go-sqlite3 style "_name=value" options that
// modernc.org/sqlite only understands as "_pragma=name(value)".
var mattnPragmas = map[string]bool{
	"journal_mode": true,
	"busy_timeout": true,
	"foreign_keys": true,
	"synchronous":  true,
}

func initDB(dataSource string) (*sql.DB, error) {
	return sql.Open(sqliteDriver, nativeDSN(dataSource))
}

// nativeDSN rewrites a go-sqlite3 data source so both drivers accept the
// same config value.
func nativeDSN(dataSource string) string {
	path, query, ok := strings.Cut(dataSource, "?")
	if !ok {
		return dataSource
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return dataSource
	}
	out := url.Values{}
	for key, vals := range values {
		name, hasPrefix := strings.CutPrefix(key, "_")
		if !hasPrefix || !mattnPragmas[name] {
			out[key] = append(out[key], vals...)
			continue
		}
		for _, v := range vals {
			out.Add("_pragma", name+"("+v+")")
		}
	}
	return path + "?" + out.Encode()
}
