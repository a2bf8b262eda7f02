package graph

import "time"

// Item is a file written to OneDrive, normalized from the Graph driveItem.
type Item struct {
	ID         string
	Name       string
	Size       int64
	MimeType   string
	WebURL     string // browser link to the item
	ModifiedAt time.Time
}

// driveItemResponse mirrors the subset of the Graph driveItem JSON we read.
type driveItemResponse struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Size                 int64      `json:"size"`
	WebURL               string     `json:"webUrl"`
	LastModifiedDateTime string     `json:"lastModifiedDateTime"`
	File                 *fileFacet `json:"file"`
}

type fileFacet struct {
	MimeType string `json:"mimeType"`
}

func (d *driveItemResponse) toItem() Item {
	item := Item{
		ID:     d.ID,
		Name:   d.Name,
		Size:   d.Size,
		WebURL: d.WebURL,
	}

	if d.File != nil {
		item.MimeType = d.File.MimeType
	}

	// Unparseable timestamps are left zero; they are informational only.
	if t, err := time.Parse(time.RFC3339, d.LastModifiedDateTime); err == nil {
		item.ModifiedAt = t
	}

	return item
}
