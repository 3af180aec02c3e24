//go:build !(cgo && sqlite3_cgo)

package db

import (
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	driverID   = "ncruces/go-sqlite3"
	driverName = "sqlite3"
)

func busyTimeoutParam(d time.Duration) (string, string) {
	return "_pragma", fmt.Sprintf("busy_timeout(%d)", d.Milliseconds())
}
