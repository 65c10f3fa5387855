// Package security validates operator input before anything touches a device.
package security

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// Validator checks image names, device paths and account fields.
type Validator struct {
	// devRoot is the directory device paths must live under.
	devRoot string
}

// NewValidator creates a validator accepting devices under devRoot
// (normally "/dev").
func NewValidator(devRoot string) *Validator {
	if devRoot == "" {
		devRoot = "/dev"
	}
	return &Validator{devRoot: filepath.Clean(devRoot)}
}

// ValidateImageFile checks a catalog file name for path traversal.
// Image files must stay inside the images directory.
func (v *Validator) ValidateImageFile(name string) error {
	if name == "" {
		return fmt.Errorf("security: empty image file name")
	}

	if filepath.IsAbs(name) {
		slog.Error("security_image_validation_failed", "file", name, "reason", "absolute_path")
		return fmt.Errorf("security: absolute image path not allowed: %s", name)
	}

	clean := filepath.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		slog.Error("security_image_validation_failed", "file", name, "reason", "path_traversal")
		return fmt.Errorf("security: path traversal detected: %s", name)
	}

	return nil
}

// ValidateDevicePath checks a raw device path before it is handed to the writer.
func (v *Validator) ValidateDevicePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("security: empty device path")
	}

	if strings.ContainsAny(path, "\x00\n") {
		slog.Error("security_device_validation_failed", "reason", "control_characters")
		return fmt.Errorf("security: device path contains control characters")
	}

	clean := filepath.Clean(path)
	if clean != path {
		slog.Error("security_device_validation_failed", "device", path, "reason", "not_clean")
		return fmt.Errorf("security: device path is not canonical: %s", path)
	}

	if !strings.HasPrefix(clean, v.devRoot+string(filepath.Separator)) {
		slog.Error("security_device_validation_failed", "device", path, "dev_root", v.devRoot)
		return fmt.Errorf("security: device %s is outside %s", path, v.devRoot)
	}

	return nil
}

// ValidateAccount checks the optional first-boot account. An empty username
// with an empty password means no account; a password needs a username.
func (v *Validator) ValidateAccount(username, password string) error {
	if username == "" && password == "" {
		return nil
	}

	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("security: password given without username")
	}
	if password == "" {
		return fmt.Errorf("security: username %q given without password", username)
	}

	// userconf is a single "user:hash" line
	if strings.ContainsAny(username, ":\n\r") {
		slog.Error("security_account_validation_failed", "reason", "invalid_username_characters")
		return fmt.Errorf("security: username must not contain ':' or line breaks")
	}
	if username != strings.TrimSpace(username) {
		return fmt.Errorf("security: username must not have surrounding whitespace")
	}

	return nil
}
