package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStore casa (errors.Is) com qualquer *StoreError.
	ErrStore = errors.New("rate limit store failure")
	// ErrConfig casa (errors.Is) com qualquer *ConfigError.
	ErrConfig = errors.New("invalid rate limit policy")
)

// StoreError representa falha de infraestrutura no Store ou no BanTracker
// (backend fora do ar, timeout, resposta inesperada).
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("store %s failed", e.Op)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

// ConfigError é uma policy inválida. É fatal no registro, nunca por requisição.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid policy: %s: %s", e.Field, e.Message)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }
