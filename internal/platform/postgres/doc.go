// Package postgres provides PostgreSQL implementations of the task, result and
// progress stores defined in the internal/store package. It owns the SQL,
// the mapping between domain values and rows, and the translation of driver
// errors into store errors. The schema lives in the migrations subpackage.
package postgres
