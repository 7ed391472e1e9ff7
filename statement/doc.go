// Package statement renders insert, update, delete, select and count
// statements with inlined literals for a bun dialect.
package statement
