// Package version holds the build version reported by the health endpoint and agent logs.
// Override at build time: -ldflags '-X github.com/invisible-tech/hostauth-sensor/internal/version.Version=1.2.3'
package version

// Version defaults to the local development version.
var Version = "1.0.0"
