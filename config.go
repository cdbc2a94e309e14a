package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Seednode/dungeonhonor/internal/auth"
)

type Config struct {
	bind           string
	metrics        bool
	port           int
	prefix         string
	profile        bool
	sessionTimeout time.Duration
	store          string
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool

	clientID     string
	clientSecret string
	issuer       string
	redirectURL  string

	logger *zap.Logger
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.store == "" {
		return errors.New("--store must not be empty")
	}
	if (c.clientID == "") != (c.clientSecret == "") {
		return errors.New("both --battlenet-client-id and --battlenet-client-secret must be provided together")
	}
	if c.clientID != "" && !auth.ValidIssuer(c.issuer) {
		return fmt.Errorf("invalid battle.net issuer: %q", c.issuer)
	}
	if c.sessionTimeout < 0 || (c.sessionTimeout > 0 && c.sessionTimeout < auth.MinSessionTimeout) {
		return fmt.Errorf("invalid session timeout (must be 0 or at least %s): %s", auth.MinSessionTimeout, c.sessionTimeout)
	}
	if c.redirectURL != "" {
		if u, err := url.Parse(c.redirectURL); err != nil || u.Host == "" {
			return fmt.Errorf("invalid battle.net redirect url: %q", c.redirectURL)
		}
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func (c *Config) authEnabled() bool {
	return c.clientID != ""
}

// bindEnv lets every flag in fs be set from a DUNGEONHONOR_-prefixed
// environment variable.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("DUNGEONHONOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return v
}

func newCmd(cfg *Config) *cobra.Command {
	v := newViper()

	cmd := &cobra.Command{
		Use:           "dungeonhonor",
		Short:         "Record and review peer feedback for completed group runs.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}

			logger, err := newLogger(cfg.verbose)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			cfg.logger = logger

			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: DUNGEONHONOR_BIND)")
	fs.BoolVar(&cfg.metrics, "metrics", false, "expose prometheus metrics at /metrics (env: DUNGEONHONOR_METRICS)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: DUNGEONHONOR_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: DUNGEONHONOR_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: DUNGEONHONOR_PROFILE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle visitor and login sessions are dropped (env: DUNGEONHONOR_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.store, "store", "sqlite://dungeonhonor.db", "behavior store, as redis://, rediss:// or sqlite:// url (env: DUNGEONHONOR_STORE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: DUNGEONHONOR_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: DUNGEONHONOR_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: DUNGEONHONOR_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: DUNGEONHONOR_VERSION)")

	fs.StringVar(&cfg.clientID, "battlenet-client-id", "", "battle.net oauth client id; enables sign-in (env: DUNGEONHONOR_BATTLENET_CLIENT_ID)")
	fs.StringVar(&cfg.clientSecret, "battlenet-client-secret", "", "battle.net oauth client secret (env: DUNGEONHONOR_BATTLENET_CLIENT_SECRET)")
	fs.StringVar(&cfg.issuer, "battlenet-issuer", auth.DefaultIssuer, "battle.net oauth issuer (env: DUNGEONHONOR_BATTLENET_ISSUER)")
	fs.StringVar(&cfg.redirectURL, "battlenet-redirect-url", "", "absolute oauth callback url, ending in /auth/callback (env: DUNGEONHONOR_BATTLENET_REDIRECT_URL)")

	bindEnv(v, fs)

	cmd.AddCommand(newReportCmd(), newRateCmd())

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("dungeonhonor v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
