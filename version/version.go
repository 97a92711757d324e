package version

// will be replaced with the release version when using goreleaser
var version = "development"

// ManagerVersion returns the qzmanager build version
func ManagerVersion() string {
	return version
}
