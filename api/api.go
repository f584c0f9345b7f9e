// Package api holds the constants shared by the crashsym daemon and its clients.
package api

// DefaultVersion is the REST API version every route is mounted under
const DefaultVersion = "1"
