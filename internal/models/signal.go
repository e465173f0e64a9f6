package models

// Signal is an incoming event evaluated against a tenant's rules before
// any alert record exists. Context and Evidence are heterogeneous maps;
// rule conditions address them through the data.* and metadata.*
// namespaces respectively.
type Signal struct {
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Severity Severity       `json:"severity"`
	Category Category       `json:"category"`
	Source   string         `json:"source,omitempty"`
	UserID   string         `json:"user_id,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
	Evidence map[string]any `json:"evidence,omitempty"`
}
