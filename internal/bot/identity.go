package bot

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)
)

// maxLoggedRunes caps how much of a user message ever reaches the logs.
const maxLoggedRunes = 50

// HashUserID derives the short anonymous identity used for logging,
// rate limiting and the conversation cache. Not reversible in practice,
// and stable across restarts.
func HashUserID(userID int64) string {
	sum := md5.Sum([]byte(strconv.FormatInt(userID, 10)))
	return hex.EncodeToString(sum[:])[:8]
}

// AnonymizeMessage strips emails and phone numbers from a message and
// truncates it before logging.
func AnonymizeMessage(msg string) string {
	msg = emailPattern.ReplaceAllString(msg, "[EMAIL]")
	msg = phonePattern.ReplaceAllString(msg, "[TELÉFONO]")

	runes := []rune(msg)
	if len(runes) > maxLoggedRunes {
		return string(runes[:maxLoggedRunes]) + "..."
	}
	return msg
}

var markdownEscaper = strings.NewReplacer(
	"_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`,
	"(", `\(`, ")", `\)`, "~", `\~`, "`", "\\`",
	">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`,
	"=", `\=`, "|", `\|`, "{", `\{`, "}", `\}`,
	".", `\.`, "!", `\!`,
)

// EscapeMarkdown escapes Telegram Markdown control characters so
// database content can be embedded in a formatted reply.
func EscapeMarkdown(text string) string {
	return markdownEscaper.Replace(text)
}
