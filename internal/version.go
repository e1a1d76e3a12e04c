package internal

var CurrentVersion = "v0.1.0" // Will be overwritten by ldflags during build
