package config

import (
	"fmt"
	"net/url"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for errors a struct tag cannot
// express on its own: backend selection and endpoint well-formedness on
// top of the tag-driven field validation.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			return fmt.Errorf("invalid configuration: %s", formatValidationErrors(verrs))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch cfg.Backend.Type {
	case "httpkv":
		if err := validateHTTPKV(&cfg.Backend.HTTPKV); err != nil {
			return err
		}
	case "s3":
		if cfg.Backend.S3.Bucket == "" {
			return fmt.Errorf("backend.s3.bucket is required when backend.type is s3")
		}
	}

	return nil
}

func validateHTTPKV(cfg *HTTPKVConfig) error {
	if len(cfg.Endpoints) == 0 {
		return fmt.Errorf("backend.httpkv.endpoints must list at least one cluster member")
	}
	if cfg.Bucket == "" {
		return fmt.Errorf("backend.httpkv.bucket is required when backend.type is httpkv")
	}
	for _, raw := range cfg.Endpoints {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("backend.httpkv.endpoints: %q is not a valid base URL", raw)
		}
	}
	return nil
}

// formatValidationErrors turns validator's error list into a single
// readable line naming each offending field.
func formatValidationErrors(errs validator.ValidationErrors) string {
	msg := ""
	for i, e := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += fmt.Sprintf("field %q failed %q validation", e.Namespace(), e.Tag())
	}
	return msg
}
