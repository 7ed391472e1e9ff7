// Package database provides the connection provider, the reconnect and
// transaction wrappers, token based authentication, configuration loading,
// error classification and logging used by the repositories.
package database
