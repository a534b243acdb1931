package sidecar

// PlayitService defines the tunnel client that exposes the game port to
// the internet without port forwarding. The agent reads its own saved
// configuration; failures we care about are bad or missing credentials.
func PlayitService() Service {
	return Service{
		Name:        "playit",
		BinaryName:  "playit",
		ReleasesURL: "https://api.github.com/repos/playit-cloud/playit-agent/releases/latest",
		Args: func(string) []string {
			return nil
		},
		FailureMarkers: []string{"error", "failed", "invalid secret", "panic"},
	}
}
