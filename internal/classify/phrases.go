package classify

import "strings"

// Phrase is a recognised subject phrase and the document it announces.
type Phrase struct {
	// Text is matched case-insensitively as a substring of the subject.
	Text     string
	Category string
	Type     string
}

// DefaultPhrases are the subjects that identify document submissions.
var DefaultPhrases = []Phrase{
	{Text: "kyc document - pan", Category: "kyc", Type: "pan"},
	{Text: "kyc document - address", Category: "kyc", Type: "address_proof"},
	{Text: "bank statement", Category: "financial", Type: "bank_statement"},
	{Text: "gst details", Category: "financial", Type: "gst"},
	{Text: "itr details", Category: "financial", Type: "itr"},
}

// MatchPhrase returns the first phrase contained in subject.
func MatchPhrase(phrases []Phrase, subject string) (Phrase, bool) {
	lower := strings.ToLower(subject)
	for _, p := range phrases {
		if strings.Contains(lower, p.Text) {
			return p, true
		}
	}
	return Phrase{}, false
}

// LookupPhrase returns the phrase whose text equals text.
func LookupPhrase(phrases []Phrase, text string) (Phrase, bool) {
	for _, p := range phrases {
		if p.Text == text {
			return p, true
		}
	}
	return Phrase{}, false
}
