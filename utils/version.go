package utils

// Build-time version information, injected through ldflags.
var (
	// Tag is the git tag this binary was built from.
	Tag string
	// GitHash is the git commit hash this binary was built from.
	GitHash string
	// BuildStamp is the UTC time this binary was built at.
	BuildStamp string
)
