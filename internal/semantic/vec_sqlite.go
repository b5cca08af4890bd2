//go:build sqlite_vec && cgo

package semantic

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register the sqlite-vec extension with the mattn/go-sqlite3 driver
	// so vec0 virtual tables are available to builds that opt in.
	vec.Auto()
}
