package version

// Value is set at build time with -ldflags "-X github.com/fabian4/devproxy/internal/version.Value=...".
var Value = "dev"
