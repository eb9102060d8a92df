package store

import "fmt"

// StoreConfig selects the exchange-log backend.
type StoreConfig struct {
	Driver      string // "sqlite" or "postgres"; empty disables the log
	SQLitePath  string
	PostgresDSN string
}

// Stores is the top-level container for all storage backends.
// Exchanges is nil when no backend is configured.
type Stores struct {
	Exchanges ExchangeStore
}

// Close releases every backend.
func (s *Stores) Close() error {
	if s == nil || s.Exchanges == nil {
		return nil
	}
	if err := s.Exchanges.Close(); err != nil {
		return fmt.Errorf("close exchange store: %w", err)
	}
	return nil
}
