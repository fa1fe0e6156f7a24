package model

// VideoMeta is the resolved publish metadata. Resolution is total: whatever
// the companion document looked like, every field is usable.
type VideoMeta struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// Credentials holds the secret material one target needs, keyed by secret
// name. Brokered per invocation; publishers never read the environment.
type Credentials map[string]string
