package models

import "time"

// RequestState defines lifecycle states for soundtrack requests.
type RequestState string

const (
	// RequestStatePending indicates the request is waiting to be fulfilled.
	RequestStatePending RequestState = "pending"
	// RequestStateHold indicates the request is parked with a reason.
	RequestStateHold RequestState = "hold"
	// RequestStateComplete is terminal: fulfilled, or rejected when a
	// rejection reason was recorded. Completed rows are kept so a link can
	// never be requested twice.
	RequestStateComplete RequestState = "complete"
)

// Request is a member-submitted soundtrack request.
type Request struct {
	ID         uint         `gorm:"primaryKey" json:"id"`
	Title      string       `gorm:"size:300;not null" json:"title"`
	Link       string       `gorm:"size:500;index" json:"link,omitempty"`
	UserID     string       `gorm:"size:32;not null;index" json:"user_id"`
	UserTag    string       `gorm:"size:120;not null" json:"user_tag"`
	Donator    bool         `gorm:"not null;default:false" json:"donator"`
	State      RequestState `gorm:"type:varchar(20);not null;default:'pending';index" json:"state"`
	Reason     string       `gorm:"type:text" json:"reason,omitempty"`
	ListingRef string       `gorm:"size:32" json:"listing_ref,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Open reports whether the request still has a visible listing entry.
func (r *Request) Open() bool {
	return r.State != RequestStateComplete
}

// Display returns the title with the link appended, the form used in
// listing entries and talk-channel notices.
func (r *Request) Display() string {
	if r.Link != "" {
		return r.Title + " (" + r.Link + ")"
	}
	return r.Title
}

// TitleOrLink returns the title, falling back to the bare link for
// requests submitted with a URL only.
func (r *Request) TitleOrLink() string {
	if r.Title != "" {
		return r.Title
	}
	return r.Link
}
