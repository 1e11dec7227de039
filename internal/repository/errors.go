// Package repository defines the MySQL and Redis backed stores of the
// session core together with the sentinel errors they share.  Lookups
// that find nothing return sql.ErrNoRows, as database/sql does; the
// values below cover the remaining cases higher layers need to tell
// apart.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrUsernameExists is returned when registering a login identifier that
// is already taken.  Handlers should translate this into an HTTP 409.
var ErrUsernameExists = errors.New("username already exists")

// ErrLineNotFound is returned when a cart line does not exist or does not
// belong to the cart the caller is operating on.
var ErrLineNotFound = errors.New("cart line not found")

// isDuplicateKey reports whether err is a MySQL unique-key violation.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
