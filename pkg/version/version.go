package version

// Version is the release of the glidetrack binary, overridden at link time.
var Version = "v0.4.0"
