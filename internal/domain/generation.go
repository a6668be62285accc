package domain

// RetrieveRequest asks the knowledge base to answer Query, continuing
// SessionID when it is set.
type RetrieveRequest struct {
	Query           string
	KnowledgeBaseID string
	SessionID       string
}

// Reference is one retrieved passage that supports a citation.
type Reference struct {
	Text     string
	Location string
}

type Citation struct {
	Text       string
	References []Reference
}

// Retrieval is the result of a retrieve-and-generate call.
type Retrieval struct {
	Output    string
	Citations []Citation
	SessionID string
}

// Grounded reports whether at least one citation is backed by at least one
// retrieved reference.
func (r Retrieval) Grounded() bool {
	for _, c := range r.Citations {
		if len(c.References) > 0 {
			return true
		}
	}
	return false
}

// GenerateRequest is a chat-style prompt for a general-purpose model.
type GenerateRequest struct {
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}
