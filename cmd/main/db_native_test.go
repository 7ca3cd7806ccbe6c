//go:build !cgo_sqlite

package main

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNativeDSN(t *testing.T) {
	assert.Equal(t, "./data/cadenza.db", nativeDSN("./data/cadenza.db"))

	dsn := nativeDSN("./data/cadenza.db?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	path, query, ok := strings.Cut(dsn, "?")
	require.True(t, ok)
	assert.Equal(t, "./data/cadenza.db", path)

	values, err := url.ParseQuery(query)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"journal_mode(WAL)", "busy_timeout(5000)"}, values["_pragma"])
	assert.Equal(t, "immediate", values.Get("_txlock"), "options modernc understands are kept")
	assert.Empty(t, values.Get("_journal_mode"))
}
