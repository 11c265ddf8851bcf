// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package config reads the pkcelogin server configuration from the
// environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/pkcelogin/pkcelogin/oidc"
	"github.com/pkcelogin/pkcelogin/oidc/cookie"
	"golang.org/x/text/language"
)

// ErrInvalidConfig is returned (wrapped) by Validate and Load.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultEnvFile is loaded by Load when it exists.
const DefaultEnvFile = ".env"

// Config for the pkcelogin server.  Values are bound from OIDC_* environment
// variables.
type Config struct {
	Issuer       string            `env:"OIDC_ISSUER" env-default:"https://id.twitch.tv/oauth2" env-description:"issuer base URL"`
	ClientID     string            `env:"OIDC_CLIENT_ID" env-description:"client id (required)"`
	ClientSecret oidc.ClientSecret `env:"OIDC_CLIENT_SECRET" env-description:"client secret (required)"`
	RedirectURL  string            `env:"OIDC_REDIRECT_URL" env-default:"http://localhost:8055/auth/login/twitch/callback" env-description:"redirect URI registered with the provider"`
	Port         int               `env:"OIDC_PORT" env-default:"8055" env-description:"listen port"`
	ProviderName string            `env:"OIDC_PROVIDER_NAME" env-default:"twitch" env-description:"provider path segment of the callback route"`

	// Scopes, IDTokenClaims, SigningAlgs and UILocales are comma separated
	// lists.
	Scopes        string `env:"OIDC_SCOPES" env-default:"user:read:email" env-description:"additional scopes"`
	IDTokenClaims string `env:"OIDC_ID_TOKEN_CLAIMS" env-default:"email,email_verified" env-description:"requested id_token claims"`
	SigningAlgs   string `env:"OIDC_SIGNING_ALGS" env-default:"RS256" env-description:"allowed id_token signing algorithms"`
	UILocales     string `env:"OIDC_UI_LOCALES" env-description:"BCP 47 ui_locales"`

	ClientAuth  string        `env:"OIDC_CLIENT_AUTH" env-default:"post" env-description:"post or basic"`
	ProviderCA  string        `env:"OIDC_PROVIDER_CA" env-description:"PEM encoded CA certs for the provider"`
	HTTPTimeout time.Duration `env:"OIDC_HTTP_TIMEOUT" env-default:"10s" env-description:"timeout of requests to the provider"`

	CookieSecret        string        `env:"OIDC_COOKIE_SECRET" env-description:"verifier cookie signing secret, at least 32 bytes (required)"`
	CookieEncryptionKey string        `env:"OIDC_COOKIE_ENCRYPTION_KEY" env-description:"optional verifier cookie encryption key of 16, 24 or 32 bytes"`
	CookieSecure        bool          `env:"OIDC_COOKIE_SECURE" env-default:"false" env-description:"set the Secure cookie attribute"`
	CookieMaxAge        time.Duration `env:"OIDC_COOKIE_MAX_AGE" env-default:"10m" env-description:"max age of a login attempt"`

	LogLevel string `env:"OIDC_LOG_LEVEL" env-default:"info" env-description:"trace, debug, info, warn or error"`
}

// Load reads the optional env file (DefaultEnvFile when envFile is empty),
// binds the environment and validates the result.  Variables already set in
// the environment take precedence over the env file.
func Load(envFile string) (*Config, error) {
	const op = "config.Load"
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: unable to load %q: %w", op, envFile, err)
	}
	c := &Config{}
	if err := cleanenv.ReadEnv(c); err != nil {
		return nil, fmt.Errorf("%s: unable to read environment: %w", op, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// Validate reports every problem with the configuration at once.  The
// returned error is a *multierror.Error whose entries wrap ErrInvalidConfig.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrInvalidConfig)
	}
	var retErr *multierror.Error
	fail := func(format string, a ...interface{}) {
		retErr = multierror.Append(retErr, fmt.Errorf("%s: %s: %w", op, fmt.Sprintf(format, a...), ErrInvalidConfig))
	}

	if u, err := url.Parse(c.Issuer); err != nil || u.Scheme == "" || u.Host == "" {
		fail("OIDC_ISSUER %q is not a valid url", c.Issuer)
	}
	if c.ClientID == "" {
		fail("OIDC_CLIENT_ID is required")
	}
	if c.ClientSecret == "" {
		fail("OIDC_CLIENT_SECRET is required")
	}
	if u, err := url.Parse(c.RedirectURL); err != nil || u.Scheme == "" || u.Host == "" {
		fail("OIDC_REDIRECT_URL %q is not a valid url", c.RedirectURL)
	}
	if c.Port < 1 || c.Port > 65535 {
		fail("OIDC_PORT %d is out of range", c.Port)
	}
	if c.ProviderName == "" || strings.Contains(c.ProviderName, "/") {
		fail("OIDC_PROVIDER_NAME %q must be a single path segment", c.ProviderName)
	}
	if _, err := c.signingAlgs(); err != nil {
		fail("OIDC_SIGNING_ALGS: %s", err)
	}
	if _, err := c.uiLocales(); err != nil {
		fail("OIDC_UI_LOCALES: %s", err)
	}
	if _, err := c.clientAuthMethod(); err != nil {
		fail("OIDC_CLIENT_AUTH: %s", err)
	}
	if c.HTTPTimeout <= 0 {
		fail("OIDC_HTTP_TIMEOUT must be positive")
	}
	switch {
	case c.CookieSecret == "":
		fail("OIDC_COOKIE_SECRET is required")
	case len(c.CookieSecret) < cookie.MinHashKeyLen:
		fail("OIDC_COOKIE_SECRET must be at least %d bytes", cookie.MinHashKeyLen)
	}
	switch len(c.CookieEncryptionKey) {
	case 0, 16, 24, 32:
	default:
		fail("OIDC_COOKIE_ENCRYPTION_KEY must be 16, 24 or 32 bytes")
	}
	if c.CookieMaxAge < time.Second {
		fail("OIDC_COOKIE_MAX_AGE must be at least 1s")
	}
	if c.Level() == hclog.NoLevel {
		fail("OIDC_LOG_LEVEL %q is not a log level", c.LogLevel)
	}
	return retErr.ErrorOrNil()
}

// Level of the server's logger, or hclog.NoLevel when LogLevel is not a
// known level.
func (c *Config) Level() hclog.Level {
	return hclog.LevelFromString(c.LogLevel)
}

// ProviderConfig creates the oidc.Config for the provider.
func (c *Config) ProviderConfig() (*oidc.Config, error) {
	const op = "Config.ProviderConfig"
	algs, err := c.signingAlgs()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m, err := c.clientAuthMethod()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := []oidc.Option{
		oidc.WithClientAuthMethod(m),
		oidc.WithHTTPTimeout(c.HTTPTimeout),
	}
	if c.ProviderCA != "" {
		opts = append(opts, oidc.WithProviderCA(c.ProviderCA))
	}
	pc, err := oidc.NewConfig(c.Issuer, c.ClientID, c.ClientSecret, algs, c.RedirectURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return pc, nil
}

// RequestOptions are the oidc.Request options used for every login attempt:
// the additional scopes, the requested id_token claims and the ui_locales.
func (c *Config) RequestOptions() ([]oidc.Option, error) {
	const op = "Config.RequestOptions"
	tags, err := c.uiLocales()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := []oidc.Option{oidc.WithScopes(splitList(c.Scopes)...)}
	if claims := splitList(c.IDTokenClaims); len(claims) > 0 {
		opts = append(opts, oidc.WithIDTokenClaims(claims...))
	}
	if len(tags) > 0 {
		opts = append(opts, oidc.WithUILocales(tags...))
	}
	return opts, nil
}

// VerifierCookie creates the signed cookie which carries each attempt's
// verifier.
func (c *Config) VerifierCookie() (*cookie.VerifierCookie, error) {
	const op = "Config.VerifierCookie"
	opts := []oidc.Option{
		cookie.WithSecure(c.CookieSecure),
		cookie.WithMaxAge(c.CookieMaxAge),
	}
	if c.CookieEncryptionKey != "" {
		opts = append(opts, cookie.WithEncryptionKey([]byte(c.CookieEncryptionKey)))
	}
	vc, err := cookie.New([]byte(c.CookieSecret), opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return vc, nil
}

// Usage describes the environment variables.
func Usage() (string, error) {
	return cleanenv.GetDescription(&Config{}, nil)
}

func (c *Config) signingAlgs() ([]oidc.Alg, error) {
	names := splitList(c.SigningAlgs)
	if len(names) == 0 {
		return nil, errors.New("at least one algorithm is required")
	}
	algs := make([]oidc.Alg, 0, len(names))
	for _, n := range names {
		algs = append(algs, oidc.Alg(n))
	}
	if err := oidc.SupportedSigningAlgorithm(algs...); err != nil {
		return nil, err
	}
	return algs, nil
}

func (c *Config) uiLocales() ([]language.Tag, error) {
	var tags []language.Tag
	for _, l := range splitList(c.UILocales) {
		tag, err := language.Parse(l)
		if err != nil {
			return nil, fmt.Errorf("invalid language tag %q: %w", l, err)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

func (c *Config) clientAuthMethod() (oidc.ClientAuthMethod, error) {
	switch strings.ToLower(c.ClientAuth) {
	case "post", string(oidc.ClientSecretPost):
		return oidc.ClientSecretPost, nil
	case "basic", string(oidc.ClientSecretBasic):
		return oidc.ClientSecretBasic, nil
	default:
		return "", fmt.Errorf("%q is not post or basic", c.ClientAuth)
	}
}

// splitList splits a comma separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
