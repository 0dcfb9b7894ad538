// Package config handles loading and validating the Leviton bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Reading a local .env file during development
//   - Overriding with LEVITON_* environment variables
//   - Validation of required fields
//
// Security Considerations:
//   - The cloud password and 2FA code should be supplied via environment variables
//   - The config file should have restricted permissions (0600)
//   - LevitonConfig.String redacts secrets so the struct is safe to log
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Leviton.Email)
package config
