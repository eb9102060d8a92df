// Package kakao models the Kakao i Open Builder skill protocol (v2.0):
// inbound skill payloads, request validation and outbound response templates.
package kakao

import "strings"

const Version = "2.0"

// SkillRequest is the payload Open Builder posts to a skill server.
// Unknown fields are ignored; the platform adds fields over time.
type SkillRequest struct {
	Intent      *NamedRef     `json:"intent,omitempty"`
	Action      *Action       `json:"action,omitempty"`
	UserRequest *UserRequest  `json:"userRequest"`
	Bot         *NamedRef     `json:"bot,omitempty"`
	Contexts    []interface{} `json:"contexts,omitempty"`
}

type NamedRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Action struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Params       map[string]interface{} `json:"params,omitempty"`
	DetailParams map[string]interface{} `json:"detailParams,omitempty"`
	ClientExtra  map[string]interface{} `json:"clientExtra,omitempty"`
}

type UserRequest struct {
	Timezone  string        `json:"timezone"`
	Block     *NamedRef     `json:"block"`
	Utterance *string       `json:"utterance"`
	Lang      string        `json:"lang,omitempty"`
	User      *User         `json:"user"`
	Contexts  []interface{} `json:"contexts,omitempty"`
}

type User struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// UserID returns userRequest.user.id, or "" when absent.
func (r *SkillRequest) UserID() string {
	if r == nil || r.UserRequest == nil || r.UserRequest.User == nil {
		return ""
	}
	return r.UserRequest.User.ID
}

// Utterance returns the trimmed user text.
func (r *SkillRequest) Utterance() string {
	if r == nil || r.UserRequest == nil || r.UserRequest.Utterance == nil {
		return ""
	}
	return strings.TrimSpace(*r.UserRequest.Utterance)
}

// IntentName returns intent.name, or "".
func (r *SkillRequest) IntentName() string {
	if r == nil || r.Intent == nil {
		return ""
	}
	return r.Intent.Name
}

// ActionName returns action.name, or "".
func (r *SkillRequest) ActionName() string {
	if r == nil || r.Action == nil {
		return ""
	}
	return r.Action.Name
}

// BlockName returns userRequest.block.name, or "".
func (r *SkillRequest) BlockName() string {
	if r == nil || r.UserRequest == nil || r.UserRequest.Block == nil {
		return ""
	}
	return r.UserRequest.Block.Name
}
