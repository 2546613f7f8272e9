package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"yambot/internal/auth"
	"yambot/internal/eventsub"
	"yambot/internal/helix"
)

type Options struct {
	Channel        string `long:"channel" env:"YAMBOT_CHANNEL" description:"Channel login whose chat the bot joins"`
	AccessToken    string `long:"access-token" env:"YAMBOT_ACCESS_TOKEN" description:"OAuth user access token for the bot account"`
	RefreshToken   string `long:"refresh-token" env:"YAMBOT_REFRESH_TOKEN" description:"OAuth refresh token paired with the access token"`
	ClientID       string `long:"client-id" env:"YAMBOT_CLIENT_ID" description:"Twitch application client ID"`
	ClientSecret   string `long:"client-secret" env:"YAMBOT_CLIENT_SECRET" description:"Twitch application client secret (needed to refresh tokens)"`
	ConnectMessage string `long:"connect-message" env:"YAMBOT_CONNECT_MESSAGE" description:"Chat message posted once after connecting"`

	EventSubURL string `long:"eventsub-url" env:"YAMBOT_EVENTSUB_URL" description:"EventSub WebSocket URL"`
	HelixURL    string `long:"helix-url" env:"YAMBOT_HELIX_URL" description:"Helix API base URL"`
	TokenURL    string `long:"token-url" env:"YAMBOT_TOKEN_URL" description:"OAuth token endpoint"`
	ValidateURL string `long:"validate-url" env:"YAMBOT_VALIDATE_URL" description:"OAuth token validation endpoint"`

	ReconnectAttempts  int           `long:"reconnect-attempts" env:"YAMBOT_RECONNECT_ATTEMPTS" default:"5" description:"Reconnect attempts before giving up"`
	ReconnectBaseDelay time.Duration `long:"reconnect-base-delay" env:"YAMBOT_RECONNECT_BASE_DELAY" default:"1s" description:"Delay before the first reconnect attempt"`
	ReconnectMaxDelay  time.Duration `long:"reconnect-max-delay" env:"YAMBOT_RECONNECT_MAX_DELAY" default:"6s" description:"Upper bound for the reconnect delay"`

	MetricsAddr  string `long:"metrics-addr" env:"YAMBOT_METRICS_ADDR" description:"Serve Prometheus metrics on this address (e.g. 127.0.0.1:9090)"`
	SettingsFile string `long:"settings-file" env:"YAMBOT_SETTINGS_FILE" description:"Settings file path (defaults to the user config dir)"`
	NoWatch      bool   `long:"no-watch" env:"YAMBOT_NO_WATCH" description:"Do not reload tokens when the settings file changes"`
	Debug        bool   `long:"debug" env:"YAMBOT_DEBUG" description:"Enable verbose debug output"`
}

type Endpoints struct {
	EventSubURL string
	HelixURL    string
	TokenURL    string
	ValidateURL string
}

// ParseOptions loads a .env file if present and parses args (without the
// program name).
func ParseOptions(args []string) (Options, error) {
	_ = godotenv.Load()
	opts := Options{}
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func ValidateRequired(opts Options) error {
	if strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(opts.Channel), "#")) == "" {
		return errors.New("channel is required")
	}
	if strings.TrimSpace(opts.AccessToken) == "" {
		return errors.New("access token is required")
	}
	if strings.TrimSpace(opts.ClientID) == "" {
		return errors.New("client ID is required")
	}
	if strings.TrimSpace(opts.RefreshToken) != "" && strings.TrimSpace(opts.ClientSecret) == "" {
		return errors.New("client secret is required when a refresh token is set")
	}
	return nil
}

func BuildEndpoints(opts Options) (Endpoints, error) {
	eventSubURL, err := normalizeURL("eventsub URL", opts.EventSubURL, eventsub.DefaultURL, "ws", "wss")
	if err != nil {
		return Endpoints{}, err
	}
	helixURL, err := normalizeURL("helix URL", opts.HelixURL, helix.DefaultBaseURL, "http", "https")
	if err != nil {
		return Endpoints{}, err
	}
	tokenURL, err := normalizeURL("token URL", opts.TokenURL, auth.DefaultTokenURL, "http", "https")
	if err != nil {
		return Endpoints{}, err
	}
	validateURL, err := normalizeURL("validate URL", opts.ValidateURL, auth.DefaultValidateURL, "http", "https")
	if err != nil {
		return Endpoints{}, err
	}
	return Endpoints{
		EventSubURL: eventSubURL,
		HelixURL:    strings.TrimRight(helixURL, "/"),
		TokenURL:    tokenURL,
		ValidateURL: validateURL,
	}, nil
}

func normalizeURL(name, raw, fallback string, schemes ...string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return fallback, nil
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("%s: expected absolute URL like %s", name, fallback)
	}
	for _, scheme := range schemes {
		if strings.EqualFold(parsed.Scheme, scheme) {
			parsed.Fragment = ""
			return parsed.String(), nil
		}
	}
	return "", fmt.Errorf("%s scheme must be %s", name, strings.Join(schemes, " or "))
}
