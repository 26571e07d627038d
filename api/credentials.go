package api

// APIKey is a key ID / secret pair used to authenticate requests.
// The pair is sourced from the config file with the standard
// APCA_API_KEY_ID / APCA_API_SECRET_KEY environment variables taking
// precedence, so secrets never need to be written to disk.
type APIKey struct {
	ID     string
	Secret string
}
