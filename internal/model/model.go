package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// LearningObject is a unit of educational content owned by exactly one author.
type LearningObject struct {
	ID           string   `json:"id"`
	CUID         string   `json:"cuid"`
	AuthorID     string   `json:"authorID"`
	Contributors []string `json:"contributors"`
	// Outcomes is nil when the stored record has no outcomes field at all.
	Outcomes    []Outcome `json:"outcomes,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Collection  string    `json:"collection"`
	Date        string    `json:"date"`
	Version     int       `json:"version"`
	Status      string    `json:"status"`
	Length      string    `json:"length"`
	Levels      []string  `json:"levels"`
}

// Outcome is a learning outcome attached to a LearningObject.
type Outcome struct {
	ID       string   `json:"id"`
	Bloom    string   `json:"bloom"`
	Verb     string   `json:"verb"`
	Text     string   `json:"text"`
	Mappings []string `json:"mappings"`
}

// NormalizedOutcomes returns a copy of the outcomes suitable for the search index:
// every entry has its mappings cleared and an absent field becomes an empty list.
func (lo LearningObject) NormalizedOutcomes() []Outcome {
	out := make([]Outcome, 0, len(lo.Outcomes))
	for _, o := range lo.Outcomes {
		o.Mappings = []string{}
		out = append(out, o)
	}
	return out
}

// UserAccount is a read-only user record.
type UserAccount struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Organization string `json:"organization"`
}

// Profile projects the account into the shape stored in search documents.
func (u UserAccount) Profile() AuthorProfile {
	return AuthorProfile{
		Name:         u.Name,
		Username:     u.Username,
		Email:        u.Email,
		Organization: u.Organization,
	}
}

// FileAccessID maps a username to the storage prefix that namespaces their files.
type FileAccessID struct {
	Username     string `json:"username"`
	FileAccessID string `json:"fileAccessId"`
}

// AuthorProfile is the public subset of a UserAccount.
type AuthorProfile struct {
	Name         string `json:"name"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	Organization string `json:"organization"`
}

// SearchDocument is the denormalized projection written to the search index.
// It fully replaces any prior document for the same object ID.
type SearchDocument struct {
	Author       AuthorProfile   `json:"author"`
	Collection   string          `json:"collection"`
	Contributors []AuthorProfile `json:"contributors"`
	Date         string          `json:"date"`
	Description  string          `json:"description"`
	CUID         string          `json:"cuid"`
	ID           string          `json:"id"`
	Length       string          `json:"length"`
	Levels       []string        `json:"levels"`
	Name         string          `json:"name"`
	Outcomes     []Outcome       `json:"outcomes"`
	Version      int             `json:"version"`
	Status       string          `json:"status"`
}

// NewSearchDocument builds the index projection of lo attributed to author.
func NewSearchDocument(lo LearningObject, author UserAccount, contributors []UserAccount) SearchDocument {
	profiles := make([]AuthorProfile, 0, len(contributors))
	for _, c := range contributors {
		profiles = append(profiles, c.Profile())
	}
	levels := lo.Levels
	if levels == nil {
		levels = []string{}
	}
	return SearchDocument{
		Author:       author.Profile(),
		Collection:   lo.Collection,
		Contributors: profiles,
		Date:         lo.Date,
		Description:  lo.Description,
		CUID:         lo.CUID,
		ID:           lo.ID,
		Length:       lo.Length,
		Levels:       levels,
		Name:         lo.Name,
		Outcomes:     lo.NormalizedOutcomes(),
		Version:      lo.Version,
		Status:       lo.Status,
	}
}

// IDList accepts either a single JSON string or an array of strings.
type IDList []string

func (l *IDList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = IDList{s}
		return nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("objectIDs must be a string or an array of strings: %w", err)
	}
	*l = ids
	return nil
}

// TransferRequest is the body of a change-author request.
type TransferRequest struct {
	FromUserID string `json:"fromUserID" validate:"required"`
	ToUserID   string `json:"toUserID" validate:"required,nefield=FromUserID"`
	ObjectIDs  IDList `json:"objectIDs,omitempty"`
	// ObjectID is the singular form some clients send.
	ObjectID string `json:"objectID,omitempty"`
}

// SelectedObjectIDs merges objectIDs and objectID, dropping blanks and duplicates.
func (r TransferRequest) SelectedObjectIDs() []string {
	seen := map[string]bool{}
	var ids []string
	for _, id := range append([]string(r.ObjectIDs), r.ObjectID) {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
