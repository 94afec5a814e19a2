// Package sqldb opens the relational backends used by the transfer journal
// and applies the embedded schema migrations for each SQL dialect.
package sqldb
