// Package metadata parses record struct tags into the column, key and
// relation description the repositories work from, and reads and writes
// record values by column.
package metadata
