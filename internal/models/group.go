package models

import "time"

// Group represents a group conversation document. Users is assembled from the
// membership rows on read; GroupAdmin is always an element of Users.
type Group struct {
	ID            string    `db:"id" json:"id"`
	ChatName      string    `db:"chat_name" json:"chatName"`
	GroupAdmin    string    `db:"group_admin" json:"groupAdmin"`
	LatestMessage *string   `db:"latest_message" json:"latestMessage"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
	Users         []string  `db:"-" json:"users"`
	IsGroupChat   bool      `db:"-" json:"isGroupChat"`
}

// HasMember reports whether userID is in the group's member set.
func (g Group) HasMember(userID string) bool {
	for _, id := range g.Users {
		if id == userID {
			return true
		}
	}
	return false
}
