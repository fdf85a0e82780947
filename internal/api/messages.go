package api

// Shared message constants (primarily to avoid duplicated string literals; Sonar rule S1192).
const (
	msgInvalidRequestBody = "invalid request body"
	msgMessageRequired    = "message is required"
)
