// Package storage provides GORM-backed persistence for docflow.
//
// This package includes:
//   - GormStorage: implements core.HistoryStore and core.SettingsStore
//   - Open: connects to SQLite or PostgreSQL by driver name
//   - Connection pool configuration
//
// The store interfaces are defined in pkg/core and may be implemented by
// any custom backend.
package storage
