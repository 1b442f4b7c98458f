package bot

import "strings"

// Classifier decides whether a message asks for an explanation or
// orientation about previously mentioned results, rather than new
// information. Implementations must be safe for concurrent use.
type Classifier interface {
	IsExplanatory(msg string) bool
}

// explanatoryTriggers are the phrases that mark an orientation-style
// follow-up, matched as substrings of the lowercased message.
var explanatoryTriggers = []string{
	"de que se trata",
	"de qué se trata",
	"de que se tratan",
	"diferencia",
	"me conviene",
	"salida laboral",
	"orientacion",
	"orientación",
	"perfil",
	"en que consiste",
	"qué hace",
}

// TriggerClassifier matches against the fixed trigger-phrase set.
type TriggerClassifier struct {
	triggers []string
}

// NewTriggerClassifier returns the default phrase-set classifier.
func NewTriggerClassifier() *TriggerClassifier {
	return &TriggerClassifier{triggers: explanatoryTriggers}
}

// IsExplanatory reports whether msg contains any trigger phrase.
func (c *TriggerClassifier) IsExplanatory(msg string) bool {
	msg = strings.ToLower(msg)
	for _, t := range c.triggers {
		if strings.Contains(msg, t) {
			return true
		}
	}
	return false
}
