// Package config resolves a target platform into the immutable ReleaseConfig
// consumed by every pipeline stage, and loads the optional YAML settings file
// that can point a target at a mirror or change timeouts.
package config
