package models

// Recording is one metadata entry returned by the listing endpoint.
// Values are immutable once produced by the poller.
type Recording struct {
	ID             string `json:"id"`
	Caller         string `json:"caller"`
	Callee         string `json:"callee"`
	Timestamp      string `json:"timestamp"`
	OwnerExtension string `json:"owner_extension"`
	DownloadURL    string `json:"download_url"`
}

// Fields exposes the recording as a flat map for rule evaluation
func (r Recording) Fields() map[string]string {
	return map[string]string{
		"id":              r.ID,
		"caller":          r.Caller,
		"callee":          r.Callee,
		"timestamp":       r.Timestamp,
		"owner_extension": r.OwnerExtension,
		"download_url":    r.DownloadURL,
	}
}

// Destination is where a routed recording is staged and relayed from
type Destination struct {
	Name        string `json:"name" yaml:"name"`
	Dir         string `json:"dir" yaml:"dir"`
	RelayTarget string `json:"relay" yaml:"relay"`
}
