// Package config reads the greeter client and server settings from the environment and an
// optional JSON file, and loads the certificate material a security mode needs.
package config

import (
	"math"
	"net"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/yosuke-furukawa/json5/encoding/json5"
	"go.uber.org/multierr"

	"github.com/jtattermusch/grpc-authentication-kubernetes-examples/logging"
)

// Environment variables understood by the client and server. Every name may also be given with
// a "GREETER_" prefix, which is how the demo deployment manifests name them.
const (
	EnvServiceTarget    = "SERVICE_TARGET"
	EnvClientSecurity   = "CLIENT_SECURITY"
	EnvServerSecurity   = "SERVER_SECURITY"
	EnvCertsPath        = "CERTS_PATH"
	EnvServerPort       = "SERVER_PORT"
	EnvSigningSecret    = "SIGNING_SECRET"
	EnvSigningKeyFile   = "SIGNING_KEY_FILE"
	EnvTokenIssuer      = "TOKEN_ISSUER"
	EnvTokenSubject     = "TOKEN_SUBJECT"
	EnvTokenAudience    = "TOKEN_AUDIENCE"
	EnvTokenTTL         = "TOKEN_TTL"
	EnvClientIterations = "CLIENT_ITERATIONS"
	EnvClientCallDelay  = "CLIENT_CALL_DELAY"
	EnvCallTimeout      = "CALL_TIMEOUT"
	EnvCallRetries      = "CALL_RETRIES"
	EnvGreeterName      = "GREETER_NAME"
	EnvTLSServerName    = "TLS_SERVER_NAME"
	EnvLogLevel         = "LOG_LEVEL"
	EnvLogFile          = "LOG_FILE"
	EnvConfigFile       = "GREETER_CONFIG"

	envAliasPrefix = "GREETER_"
)

// Defaults applied before the config file and environment are read.
const (
	DefaultServerPort    = 8000
	DefaultServiceTarget = "localhost:8000"
	DefaultIterations    = 10000
	DefaultCallDelay     = time.Second
	DefaultCallTimeout   = 10 * time.Second
	DefaultGreeterName   = "you"

	DefaultTokenIssuer   = "demo-jwt-issuer@cluster.local"
	DefaultTokenSubject  = "demo-jwt-subject@cluster.local"
	DefaultTokenAudience = "helloworld.Greeter"
	DefaultTokenTTL      = time.Hour
)

// LookupFunc looks up a single environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// TokenConfig describes the bearer tokens a client mints and a server accepts.
type TokenConfig struct {
	// SigningSecret is the shared HMAC secret. It is mutually exclusive with SigningKeyFile.
	SigningSecret string `json:"signingSecret"`
	// SigningKeyFile is a JWK (kty "oct") holding the shared secret.
	SigningKeyFile string        `json:"signingKeyFile"`
	Issuer         string        `json:"issuer"`
	Subject        string        `json:"subject"`
	Audience       string        `json:"audience"`
	TTL            time.Duration `json:"ttl"`
}

// HasSecret returns whether any form of signing secret was configured.
func (tc *TokenConfig) HasSecret() bool {
	return tc.SigningSecret != "" || tc.SigningKeyFile != ""
}

// Validate ensures all parts of the config are valid.
func (tc *TokenConfig) Validate() error {
	if tc.SigningSecret != "" && tc.SigningKeyFile != "" {
		return NewConfigurationError(EnvSigningKeyFile,
			errors.Errorf("cannot be combined with %s", EnvSigningSecret))
	}
	if tc.Audience == "" {
		return NewConfigurationFieldRequiredError(EnvTokenAudience)
	}
	// exp has whole second resolution
	if tc.TTL < time.Second {
		return NewConfigurationError(EnvTokenTTL, errors.Errorf("must be at least 1s, got %s", tc.TTL))
	}
	return nil
}

// LoggingConfig describes the process logger.
type LoggingConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

// Validate ensures all parts of the config are valid.
func (lc *LoggingConfig) Validate() error {
	if lc.Level == "" {
		return nil
	}
	if _, err := logging.LevelFromString(lc.Level); err != nil {
		return NewConfigurationError(EnvLogLevel, err)
	}
	return nil
}

// Apply sets the level of logger and attaches a rotating file appender when a log file is
// configured. The returned function flushes and closes the outputs.
func (lc *LoggingConfig) Apply(logger logging.Logger) (func() error, error) {
	if err := lc.Validate(); err != nil {
		return nil, err
	}
	if lc.Level != "" {
		//nolint:errcheck
		level, _ := logging.LevelFromString(lc.Level)
		logger.SetLevel(level)
		if level == logging.DEBUG {
			logging.GlobalLogLevel.SetLevel(logging.DEBUG.AsZap())
		}
	}
	if lc.File == "" {
		return logger.Sync, nil
	}
	fileAppender := logging.NewFileAppender(lc.File)
	logger.AddAppender(fileAppender)
	return func() error {
		return multierr.Combine(logger.Sync(), fileAppender.Close())
	}, nil
}

// ClientConfig configures the greeter client.
type ClientConfig struct {
	Target     string       `json:"target"`
	Security   SecurityMode `json:"security"`
	CertsPath  string       `json:"certsPath"`
	ServerName string       `json:"serverName"`

	Name        string        `json:"name"`
	Iterations  int           `json:"iterations"`
	CallDelay   time.Duration `json:"callDelay"`
	CallTimeout time.Duration `json:"callTimeout"`
	CallRetries uint          `json:"callRetries"`

	Token   TokenConfig   `json:"token"`
	Logging LoggingConfig `json:"logging"`
}

// Validate ensures all parts of the config are valid.
func (cc *ClientConfig) Validate() error {
	if err := cc.Security.Validate(); err != nil {
		return NewConfigurationError(EnvClientSecurity, err)
	}
	if cc.Target == "" {
		return NewConfigurationFieldRequiredError(EnvServiceTarget)
	}
	if cc.Iterations < 0 {
		return NewConfigurationError(EnvClientIterations, errors.New("must not be negative"))
	}
	if cc.CallDelay < 0 {
		return NewConfigurationError(EnvClientCallDelay, errors.New("must not be negative"))
	}
	if cc.CallTimeout < 0 {
		return NewConfigurationError(EnvCallTimeout, errors.New("must not be negative"))
	}
	if err := cc.Token.Validate(); err != nil {
		return err
	}
	if cc.Security.UsesToken() && !cc.Token.HasSecret() {
		return NewConfigurationError(EnvSigningSecret,
			errors.Errorf("a signing secret is required for security mode %q", cc.Security))
	}
	return cc.Logging.Validate()
}

// ServerConfig configures the greeter server.
type ServerConfig struct {
	Port      int          `json:"port"`
	Security  SecurityMode `json:"security"`
	CertsPath string       `json:"certsPath"`

	Token   TokenConfig   `json:"token"`
	Logging LoggingConfig `json:"logging"`
}

// Validate ensures all parts of the config are valid.
func (sc *ServerConfig) Validate() error {
	if err := sc.Security.Validate(); err != nil {
		return NewConfigurationError(EnvServerSecurity, err)
	}
	if sc.Security == TransportSecureWithToken {
		return NewConfigurationError(EnvServerSecurity,
			errors.Errorf("%q is a client only security mode; serve with %q to accept tokens", TransportSecureWithToken, TransportSecure))
	}
	if sc.Port <= 0 || sc.Port > 65535 {
		return NewConfigurationError(EnvServerPort, errors.Errorf("invalid port %d", sc.Port))
	}
	if err := sc.Token.Validate(); err != nil {
		return err
	}
	return sc.Logging.Validate()
}

// ListenAddress is the address the server binds to.
func (sc *ServerConfig) ListenAddress() string {
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(sc.Port))
}

func defaultTokenConfig() TokenConfig {
	return TokenConfig{
		Issuer:   DefaultTokenIssuer,
		Subject:  DefaultTokenSubject,
		Audience: DefaultTokenAudience,
		TTL:      DefaultTokenTTL,
	}
}

// ReadClientConfig builds the client config from defaults, the optional GREETER_CONFIG file and
// the environment, in increasing order of precedence.
func ReadClientConfig(lookup LookupFunc) (*ClientConfig, error) {
	cfg := &ClientConfig{
		Target:      DefaultServiceTarget,
		Name:        DefaultGreeterName,
		Iterations:  DefaultIterations,
		CallDelay:   DefaultCallDelay,
		CallTimeout: DefaultCallTimeout,
		Token:       defaultTokenConfig(),
	}
	env := &envReader{lookup: lookup}
	if err := readFileInto(env, cfg); err != nil {
		return nil, err
	}

	env.str(EnvServiceTarget, &cfg.Target)
	env.mode(EnvClientSecurity, &cfg.Security)
	env.str(EnvCertsPath, &cfg.CertsPath)
	env.str(EnvTLSServerName, &cfg.ServerName)
	env.str(EnvGreeterName, &cfg.Name)
	env.integer(EnvClientIterations, &cfg.Iterations)
	env.duration(EnvClientCallDelay, &cfg.CallDelay)
	env.duration(EnvCallTimeout, &cfg.CallTimeout)
	env.uinteger(EnvCallRetries, &cfg.CallRetries)
	env.token(&cfg.Token)
	env.logging(&cfg.Logging)
	if env.errs != nil {
		return nil, env.errs
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadServerConfig builds the server config from defaults, the optional GREETER_CONFIG file and
// the environment, in increasing order of precedence.
func ReadServerConfig(lookup LookupFunc) (*ServerConfig, error) {
	cfg := &ServerConfig{
		Port:  DefaultServerPort,
		Token: defaultTokenConfig(),
	}
	env := &envReader{lookup: lookup}
	if err := readFileInto(env, cfg); err != nil {
		return nil, err
	}

	env.integer(EnvServerPort, &cfg.Port)
	env.mode(EnvServerSecurity, &cfg.Security)
	env.str(EnvCertsPath, &cfg.CertsPath)
	env.token(&cfg.Token)
	env.logging(&cfg.Logging)
	if env.errs != nil {
		return nil, env.errs
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readFileInto decodes the GREETER_CONFIG file, if any, over the defaults already in out. The
// file is JSON5, so comments and trailing commas are allowed.
// ${VAR} references inside the file are expanded from the process environment.
func readFileInto(env *envReader, out interface{}) error {
	path, ok := env.get(EnvConfigFile)
	if !ok {
		return nil
	}
	buf, err := envsubst.ReadFile(path)
	if err != nil {
		return NewConfigurationError(EnvConfigFile, errors.Wrapf(err, "cannot read %q", path))
	}
	return decodeJSONInto(buf, out)
}

func decodeJSONInto(buf []byte, out interface{}) error {
	var raw map[string]interface{}
	if err := json5.Unmarshal(buf, &raw); err != nil {
		return NewConfigurationError(EnvConfigFile, errors.Wrap(err, "invalid json"))
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			durationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
		),
		ErrorUnused: true,
		TagName:     "json",
		Result:      out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return NewConfigurationError(EnvConfigFile, err)
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// parseDuration reads Go duration syntax ("1s", "1h30m"). A bare number is a count of seconds.
func parseDuration(val string) (time.Duration, error) {
	val = strings.TrimSpace(val)
	if secs, err := strconv.ParseFloat(val, 64); err == nil {
		return secondsToDuration(secs)
	}
	return cast.ToDurationE(val)
}

func secondsToDuration(secs float64) (time.Duration, error) {
	nanos := secs * float64(time.Second)
	if math.IsNaN(nanos) || nanos < math.MinInt64 || nanos >= math.MaxInt64 {
		return 0, errors.Errorf("%v seconds is not a valid duration", secs)
	}
	return time.Duration(nanos), nil
}

// durationHookFunc decodes file values into time.Duration fields with the same rules as the
// environment: duration strings as written, bare numbers as seconds.
func durationHookFunc() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if to != durationType || from == durationType {
			return data, nil
		}
		switch from.Kind() {
		case reflect.String:
			return parseDuration(reflect.ValueOf(data).String())
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			secs, err := cast.ToFloat64E(data)
			if err != nil {
				return nil, err
			}
			return secondsToDuration(secs)
		default:
			return data, nil
		}
	}
}

type envReader struct {
	lookup LookupFunc
	errs   error
}

// get returns the non-empty value of key, falling back to its GREETER_ prefixed alias.
func (r *envReader) get(key string) (string, bool) {
	lookup := r.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if val, ok := lookup(key); ok && val != "" {
		return val, true
	}
	if strings.HasPrefix(key, envAliasPrefix) {
		return "", false
	}
	if val, ok := lookup(envAliasPrefix + key); ok && val != "" {
		return val, true
	}
	return "", false
}

func (r *envReader) str(key string, dst *string) {
	if val, ok := r.get(key); ok {
		*dst = val
	}
}

func (r *envReader) integer(key string, dst *int) {
	val, ok := r.get(key)
	if !ok {
		return
	}
	parsed, err := cast.ToIntE(val)
	if err != nil {
		r.errs = multierr.Append(r.errs, NewConfigurationError(key, err))
		return
	}
	*dst = parsed
}

func (r *envReader) uinteger(key string, dst *uint) {
	val, ok := r.get(key)
	if !ok {
		return
	}
	parsed, err := cast.ToUintE(val)
	if err != nil {
		r.errs = multierr.Append(r.errs, NewConfigurationError(key, err))
		return
	}
	*dst = parsed
}

func (r *envReader) duration(key string, dst *time.Duration) {
	val, ok := r.get(key)
	if !ok {
		return
	}
	parsed, err := parseDuration(val)
	if err != nil {
		r.errs = multierr.Append(r.errs, NewConfigurationError(key, err))
		return
	}
	*dst = parsed
}

func (r *envReader) mode(key string, dst *SecurityMode) {
	val, ok := r.get(key)
	if !ok {
		return
	}
	parsed, err := ParseSecurityMode(val)
	if err != nil {
		r.errs = multierr.Append(r.errs, NewConfigurationError(key, err))
		return
	}
	*dst = parsed
}

func (r *envReader) token(dst *TokenConfig) {
	r.str(EnvSigningSecret, &dst.SigningSecret)
	r.str(EnvSigningKeyFile, &dst.SigningKeyFile)
	r.str(EnvTokenIssuer, &dst.Issuer)
	r.str(EnvTokenSubject, &dst.Subject)
	r.str(EnvTokenAudience, &dst.Audience)
	r.duration(EnvTokenTTL, &dst.TTL)
}

func (r *envReader) logging(dst *LoggingConfig) {
	r.str(EnvLogLevel, &dst.Level)
	r.str(EnvLogFile, &dst.File)
}
