// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing run event streams. They are not intended for
// production usage.
package testutil
