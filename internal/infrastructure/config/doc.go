// Package config loads and validates the RX1 bridge configuration.
//
// Values come from three layers, later layers winning:
//   - built-in defaults (see Default)
//   - the YAML file passed to Load
//   - RX1BRIDGE_* environment variables
//
// Secrets (MQTT password, InfluxDB token) should be supplied through the
// environment rather than the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Device.Host)
package config
