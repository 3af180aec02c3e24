//go:build cgo && sqlite3_cgo

package db

import (
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	driverID   = "mattn/go-sqlite3"
	driverName = "sqlite3"
)

func busyTimeoutParam(d time.Duration) (string, string) {
	return "_busy_timeout", strconv.FormatInt(d.Milliseconds(), 10)
}
