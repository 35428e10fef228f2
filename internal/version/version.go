// ABOUTME: Version and product identity for asciistream binaries
// ABOUTME: Version is overridable at link time with -ldflags -X
package version

import "fmt"

// Version is the release version; set with
// -ldflags "-X github.com/asciistream/asciistream-go/internal/version.Version=1.2.3"
var Version = "0.1.0"

const (
	// Product is reported in client/hello device info
	Product = "asciistream"
	// Manufacturer is reported in client/hello device info
	Manufacturer = "asciistream"
	// ProtocolVersion is the wire protocol version sent in hello messages
	ProtocolVersion = 1
)

// String formats the full version line
func String() string {
	return fmt.Sprintf("%s %s (protocol v%d)", Product, Version, ProtocolVersion)
}
