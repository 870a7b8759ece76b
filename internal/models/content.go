package models

import "time"

// NotificationType is a category a recipient can opt in or out of.
type NotificationType string

const (
	NotificationBlogPost NotificationType = "blog_posts"
)

// ContentItem is a published piece of content. It is read-only to the
// notification pipeline.
type ContentItem struct {
	ID          string    `json:"id" validate:"required"`
	Slug        string    `json:"slug,omitempty"`
	Title       string    `json:"title" validate:"required"`
	Excerpt     string    `json:"excerpt"`
	Author      string    `json:"author"`
	Category    string    `json:"category"`
	ReadTime    int       `json:"read_time" validate:"gte=0"`
	ImageURL    string    `json:"image_url,omitempty" validate:"omitempty,url"`
	PublishedAt time.Time `json:"published_at"`
}

// Path returns the site-relative path of the content page.
func (c ContentItem) Path() string {
	if c.Slug != "" {
		return "/blog/" + c.Slug
	}
	return "/blog/" + c.ID
}
