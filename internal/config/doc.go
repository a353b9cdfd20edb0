// Package config loads the streamer's YAML configuration.
//
// Values of the form ${VAR} are expanded from the environment before
// parsing, so secrets can stay out of the file.
package config
