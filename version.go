package weft

// Version is the SDK release version, reported in the User-Agent of
// every API request.
const Version = "0.3.1"

func userAgent() string {
	return "weftline-go/" + Version
}
