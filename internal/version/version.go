package version

// Version is the current webchat release.
// Override at build time with:
//
//	go build -ldflags="-X 'github.com/wsxxll/webchat/internal/version.Version=v1.0.0'"
var Version = "dev"
