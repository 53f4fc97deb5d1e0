package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
)

const (
	settingUsername = "lrs_username"
	settingPassword = "lrs_password"

	credentialLength = 24
	credentialChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// GetSetting returns the stored value and whether it exists.
func (s *Store) GetSetting(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE name = ?`, name).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get setting %s: %w", name, err)
	}
	return value, true, nil
}

func (s *Store) SetSetting(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(name, value) VALUES(?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", name, err)
	}
	return nil
}

// EnsureCredentials fills an empty username or password from the settings
// table, generating and persisting random values the first time.
func (s *Store) EnsureCredentials(ctx context.Context, username, password string) (string, string, error) {
	var err error
	if username, err = s.ensureSetting(ctx, settingUsername, username); err != nil {
		return "", "", err
	}
	if password, err = s.ensureSetting(ctx, settingPassword, password); err != nil {
		return "", "", err
	}
	return username, password, nil
}

// ResetCredentials replaces the stored credentials with fresh random ones.
func (s *Store) ResetCredentials(ctx context.Context) (string, string, error) {
	values := make([]string, 2)
	for i, name := range []string{settingUsername, settingPassword} {
		v, err := RandomString(credentialLength)
		if err != nil {
			return "", "", err
		}
		if err := s.SetSetting(ctx, name, v); err != nil {
			return "", "", err
		}
		values[i] = v
	}
	return values[0], values[1], nil
}

func (s *Store) ensureSetting(ctx context.Context, name, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	stored, ok, err := s.GetSetting(ctx, name)
	if err != nil {
		return "", err
	}
	if ok && stored != "" {
		return stored, nil
	}
	generated, err := RandomString(credentialLength)
	if err != nil {
		return "", err
	}
	if err := s.SetSetting(ctx, name, generated); err != nil {
		return "", err
	}
	return generated, nil
}

// RandomString returns n alphanumeric characters from crypto/rand.
func RandomString(n int) (string, error) {
	limit := big.NewInt(int64(len(credentialChars)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("random string: %w", err)
		}
		buf[i] = credentialChars[idx.Int64()]
	}
	return string(buf), nil
}
