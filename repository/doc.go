// Package repository persists nested record graphs. Table[T] writes one record
// type on a caller supplied connection or transaction and reaches related
// types through a Registry; Repository[T] runs those operations on a
// database.Provider with reconnect and transaction handling.
package repository
