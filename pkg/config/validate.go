package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for structural validity plus the
// cross-field rules the struct tags cannot express.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			return fmt.Errorf("invalid configuration: %s", describe(errs))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Mode == ModeMultiUser {
		if cfg.Auth.Type != "oidc" {
			return fmt.Errorf("multi-user mode requires auth.type=oidc")
		}
		if cfg.Auth.Oidc.IssuerUri == "" || cfg.Auth.Oidc.ClientId == "" {
			return fmt.Errorf("multi-user mode requires auth.oidc.issuer_uri and auth.oidc.client_id")
		}
		if cfg.Auth.Oidc.RedirectBase == "" {
			return fmt.Errorf("multi-user mode requires auth.oidc.redirect_base")
		}
	}

	return nil
}

func describe(errs validator.ValidationErrors) string {
	out := ""
	for i, fe := range errs {
		if i > 0 {
			out += "; "
		}
		out += fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag())
	}
	return out
}
