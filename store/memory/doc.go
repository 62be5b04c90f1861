// Package memory provides process-local implementations of the broker store
// contracts. They back the memory database driver and component tests.
package memory
