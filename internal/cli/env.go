package cli

import "os"

// envToken reads the fallback bearer token for when --token is unset,
// keeping it out of shell history and process listings.
func envToken() string {
	return os.Getenv("FYREFLOW_TOKEN")
}
