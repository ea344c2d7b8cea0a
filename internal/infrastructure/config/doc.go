// Package config handles loading and validating Gray Logic Live configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Adapter tokens and passwords should be set via environment variables
//     (GRAYLIVE_ADAPTER_<NAME>_TOKEN, GRAYLIVE_ADAPTER_<NAME>_PASSWORD)
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load(config.Path())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.Name)
package config
