package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"yambot/internal/auth"
)

type Settings struct {
	Channel        string `toml:"channel"`
	AccessToken    string `toml:"access_token"`
	RefreshToken   string `toml:"refresh_token"`
	ClientID       string `toml:"client_id"`
	ClientSecret   string `toml:"client_secret"`
	ConnectMessage string `toml:"connect_message,omitempty"`
	Debug          bool   `toml:"debug"`
}

func (s Settings) Tokens() auth.TokenPair {
	return auth.TokenPair{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken}
}

func DefaultSettingsPath() (string, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "yambot", "settings.toml"), nil
}

// SettingsPath is the --settings-file override or the default location.
func SettingsPath(opts Options) (string, error) {
	if path := strings.TrimSpace(opts.SettingsFile); path != "" {
		return filepath.Clean(path), nil
	}
	return DefaultSettingsPath()
}

func LoadSettings(path string) (Settings, error) {
	var settings Settings
	if _, err := toml.DecodeFile(path, &settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// SaveSettings replaces the file in one rename so watchers never observe a
// partial write.
func SaveSettings(path string, settings Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	buf.WriteString("# yambot settings\n\n")
	if err := toml.NewEncoder(&buf).Encode(settings); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*.toml")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// SaveTokens writes a refreshed token pair into the settings file, keeping
// every other setting.
func SaveTokens(path string, tokens auth.TokenPair) error {
	settings, err := LoadSettings(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	settings.AccessToken = tokens.AccessToken
	settings.RefreshToken = tokens.RefreshToken
	return SaveSettings(path, settings)
}

func MergeOptionsWithSettings(cli Options, saved Settings) Options {
	if strings.TrimSpace(cli.Channel) == "" {
		cli.Channel = saved.Channel
	}
	if strings.TrimSpace(cli.AccessToken) == "" {
		cli.AccessToken = saved.AccessToken
		// A saved refresh token only belongs to the saved access token.
		if strings.TrimSpace(cli.RefreshToken) == "" {
			cli.RefreshToken = saved.RefreshToken
		}
	}
	if strings.TrimSpace(cli.ClientID) == "" {
		cli.ClientID = saved.ClientID
	}
	if strings.TrimSpace(cli.ClientSecret) == "" {
		cli.ClientSecret = saved.ClientSecret
	}
	if strings.TrimSpace(cli.ConnectMessage) == "" {
		cli.ConnectMessage = saved.ConnectMessage
	}
	if !cli.Debug {
		cli.Debug = saved.Debug
	}
	return cli
}

func SettingsFromOptions(opts Options) Settings {
	return Settings{
		Channel:        strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(opts.Channel), "#")),
		AccessToken:    strings.TrimSpace(opts.AccessToken),
		RefreshToken:   strings.TrimSpace(opts.RefreshToken),
		ClientID:       strings.TrimSpace(opts.ClientID),
		ClientSecret:   strings.TrimSpace(opts.ClientSecret),
		ConnectMessage: strings.TrimSpace(opts.ConnectMessage),
		Debug:          opts.Debug,
	}
}
