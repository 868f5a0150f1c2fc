// Package config handles loading and validating PlaySEM Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with PLAYSEM_* environment variables
//   - Validation of required fields and value ranges
//   - Default value handling
//
// Timeline, dispatch and device reconnect tuning (tick cadence, ingress
// capacity, retry budgets, backoff curves) all live here so they can be
// changed per deployment without rebuilding.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Instance.Name)
package config
