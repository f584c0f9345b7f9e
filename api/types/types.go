// Package types holds the request and response bodies of the daemon API.
package types

var (
	BuildVersion string
	BuildTime    string
)

// Version is the body of GET /version
type Version struct {
	APIVersion     string `json:"api_version,omitempty"`
	OSType         string `json:"os_type,omitempty"`
	BuilderVersion string `json:"builder_version,omitempty"`
	BuildTime      string `json:"build_time,omitempty"`
	// IndexedUUIDs is the number of build UUIDs the daemon holds symbols for
	IndexedUUIDs int `json:"indexed_uuids"`
}

// GenericError is the body of every failed request
type GenericError struct {
	Error string `json:"error"`
}
