package main

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"posledger/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}

	err = validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", BootstrapAdminPassword: "admin"})
	if err == nil {
		t.Fatalf("expected weak bootstrap password to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", BootstrapAdminPassword: "correct-horse-battery"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := newLogger("chatty"); err == nil {
		t.Fatalf("expected unknown level to fail")
	}
	logger, err := newLogger("debug")
	if err != nil {
		t.Fatalf("expected debug level to build, got %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug logging enabled")
	}
}
