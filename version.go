package main

// Build information, injected via -ldflags at release time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)
