package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mattjoyce/hookledger/internal/auth"
)

var structValidator = validator.New()

// validate runs struct tag checks, then the cross-field rules tags cannot
// express.
func validate(cfg *Config) error {
	var errs []error

	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q check", fieldPath(fe.Namespace()), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	seen := make(map[string]int, len(cfg.Webhooks.Endpoints))
	for i, ep := range cfg.Webhooks.Endpoints {
		if prev, dup := seen[ep.Path]; dup {
			errs = append(errs, fmt.Errorf("webhooks.endpoints[%d]: path %q already used by endpoints[%d]", i, ep.Path, prev))
		} else {
			seen[ep.Path] = i
		}

		if ep.Secret == "" && ep.SecretRef != "" {
			if _, ok := ep.ResolveSecret(cfg.LookupEnv); !ok {
				errs = append(errs, fmt.Errorf("webhooks.endpoints[%d]: secret_ref %q is not set in the environment or %s", i, ep.SecretRef, EnvFile))
			}
		}
		if ep.EventIDHeader != "" && ep.EventIDPath != "" {
			errs = append(errs, fmt.Errorf("webhooks.endpoints[%d]: event_id_header and event_id_path are mutually exclusive", i))
		}
	}

	for i, tok := range cfg.API.Auth.Tokens {
		if err := auth.ValidateScopes(tok.Scopes); err != nil {
			errs = append(errs, fmt.Errorf("api.auth.tokens[%d]: %w", i, err))
		}
	}

	if cfg.API.Enabled && cfg.API.Listen == cfg.Webhooks.Listen {
		errs = append(errs, fmt.Errorf("api.listen must differ from webhooks.listen (%s)", cfg.Webhooks.Listen))
	}

	if unresolved := findUnresolved(cfg); len(unresolved) > 0 {
		errs = append(errs, fmt.Errorf("unresolved environment variables: %s", strings.Join(unresolved, ", ")))
	}

	return errors.Join(errs...)
}

// findUnresolved lists ${VAR} references left in secrets, DSNs and handler
// settings after interpolation.
func findUnresolved(cfg *Config) []string {
	var out []string
	check := func(where, v string) {
		for _, m := range envVarPattern.FindAllStringSubmatch(v, -1) {
			out = append(out, fmt.Sprintf("%s (%s)", m[1], where))
		}
	}

	check("state.dsn", cfg.State.DSN)
	check("api.auth.api_key", cfg.API.Auth.APIKey)
	for i, tok := range cfg.API.Auth.Tokens {
		check(fmt.Sprintf("api.auth.tokens[%d]", i), tok.Token)
	}
	for i, ep := range cfg.Webhooks.Endpoints {
		where := fmt.Sprintf("webhooks.endpoints[%d]", i)
		check(where+".secret", ep.Secret)
		if ep.Handler != nil {
			check(where+".handler.command", ep.Handler.Command)
			for _, a := range ep.Handler.Args {
				check(where+".handler.args", a)
			}
			for _, e := range ep.Handler.Env {
				check(where+".handler.env", e)
			}
		}
	}
	return out
}

// fieldPath turns "Config.Webhooks.Endpoints[0].Path" into a yaml-ish path.
func fieldPath(ns string) string {
	ns = strings.TrimPrefix(ns, "Config.")
	return strings.ToLower(ns)
}
