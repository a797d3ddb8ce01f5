// Package store defines the persistence contract for tasks and the errors
// every implementation reports. Implementations live under internal/platform.
package store
