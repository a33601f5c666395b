// Package utils holds the process plumbing shared by every carbon command:
// ConfigurationLoader (viper, .env files, embedded defaults), LoggerFactory
// (zap), and DecodeOptions for the loosely typed option maps found in
// workflow files.
package utils
