package model

import "database/sql"

// DBTX is satisfied by both *sql.DB and *sql.Tx so mappers can run either
// standalone or inside a transaction. With the pool capped at one
// connection, a query on the *sql.DB while a transaction is open would
// deadlock, so anything called mid-transaction must take the DBTX.
type DBTX interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}
