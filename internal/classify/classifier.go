package classify

import (
	"regexp"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailingest/internal/model"
)

// angleAddr captures the first <...> group of a From header.
var angleAddr = regexp.MustCompile(`<(.*?)>`)

// Classifier maps a fetched message to a Verdict. It performs no I/O;
// sender validity is applied afterwards through a SenderValidator.
type Classifier struct {
	phrases       []Phrase
	filterSubject bool
}

// New creates a Classifier. With filterSubject false, subjects are
// recorded but do not gate extraction.
func New(filterSubject bool, phrases []Phrase) *Classifier {
	if phrases == nil {
		phrases = DefaultPhrases
	}
	return &Classifier{phrases: phrases, filterSubject: filterSubject}
}

// Phrases returns the recognised subject phrases.
func (c *Classifier) Phrases() []Phrase {
	return c.phrases
}

// Classify evaluates subject, sender address and attachment presence.
// Headers are read in delivered order and the last Subject and the last
// From header win. The returned verdict has SenderValid unset.
func (c *Classifier) Classify(msg *model.Message) model.Verdict {
	v := model.Verdict{SubjectFiltered: c.filterSubject}

	for _, h := range msg.Headers {
		switch h.Name {
		case "Subject":
			v.Subject = h.Value
		case "From":
			v.SenderEmail = ExtractSender(h.Value)
		}
	}

	if c.filterSubject {
		if p, ok := MatchPhrase(c.phrases, v.Subject); ok {
			v.SubjectMatched = true
			v.Phrase = p.Text
		}
	}

	for _, p := range msg.Parts {
		if p.AttachmentID != "" {
			v.HasAttachment = true
			break
		}
	}

	return v.WithSender(false)
}

// ExtractSender returns the address inside the first angle brackets of a
// From header value, as written. Values without brackets, or whose
// bracketed text is not a single valid address, yield "".
func ExtractSender(from string) string {
	m := angleAddr.FindStringSubmatch(from)
	if m == nil {
		return ""
	}
	candidate := strings.TrimSpace(m[1])
	if candidate == "" {
		return ""
	}

	if _, err := mail.ParseAddress("<" + candidate + ">"); err != nil {
		return ""
	}
	return candidate
}
