package kakao

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// ErrTooLong is returned when the utterance exceeds the length limit.
	ErrTooLong = errors.New("kakao: utterance too long")
	// ErrSpam is returned when the utterance matches a spam pattern.
	ErrSpam = errors.New("kakao: spam detected")
)

// ValidationError lists the missing or malformed fields of a skill payload.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "kakao: invalid skill request: " + strings.Join(e.Fields, ", ")
}

// Validate checks the fields the skill server depends on. Unknown fields are
// allowed.
func Validate(req *SkillRequest) error {
	var missing []string
	ur := req.UserRequest
	switch {
	case ur == nil:
		missing = append(missing, "userRequest")
	default:
		if ur.User == nil || ur.User.ID == "" {
			missing = append(missing, "userRequest.user.id")
		}
		if ur.Block == nil || ur.Block.ID == "" || ur.Block.Name == "" {
			missing = append(missing, "userRequest.block")
		}
		if ur.Utterance == nil {
			missing = append(missing, "userRequest.utterance")
		}
		if ur.Timezone == "" {
			missing = append(missing, "userRequest.timezone")
		}
	}
	if req.Intent != nil && (req.Intent.ID == "" || req.Intent.Name == "") {
		missing = append(missing, "intent")
	}
	if req.Action != nil && (req.Action.ID == "" || req.Action.Name == "") {
		missing = append(missing, "action")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}

var (
	urlPattern   = regexp.MustCompile(`(?i)https?://\S+`)
	phonePattern = regexp.MustCompile(`\b\d{3}-\d{3,4}-\d{4}\b`)
	adKeywords   = []string{"광고", "홍보", "마케팅", "스팸"}
)

// MessageFilter enforces length and spam rules on user text.
type MessageFilter struct {
	MaxLength  int // in runes; 0 = unlimited
	SpamFilter bool
}

// Check returns ErrTooLong, ErrSpam (wrapped with the matched rule) or nil.
func (f MessageFilter) Check(text string) error {
	if f.MaxLength > 0 && utf8.RuneCountInString(text) > f.MaxLength {
		return ErrTooLong
	}
	if !f.SpamFilter {
		return nil
	}
	if urlPattern.MatchString(text) {
		return fmt.Errorf("%w: url", ErrSpam)
	}
	if phonePattern.MatchString(text) {
		return fmt.Errorf("%w: phone number", ErrSpam)
	}
	for _, kw := range adKeywords {
		if strings.Contains(text, kw) {
			return fmt.Errorf("%w: keyword %q", ErrSpam, kw)
		}
	}
	return nil
}
