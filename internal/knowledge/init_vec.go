//go:build sqlite_vec && cgo

package knowledge

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register sqlite-vec with the go-sqlite3 driver so vec0 virtual
	// tables and vec_distance_cosine are available on every connection.
	vec.Auto()
}
