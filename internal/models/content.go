package models

import (
	"time"
)

// Content is one uploaded package version bound to a module.
type Content struct {
	ID             int64     `json:"id"`
	ModuleID       int64     `json:"module_id"`
	FileID         string    `json:"file_id"`
	Title          string    `json:"title"`
	Path           string    `json:"path"`
	Filename       string    `json:"filename"`
	Version        int       `json:"version"`
	ReportPath     *string   `json:"report_path"`
	ReportFilename *string   `json:"report_filename"`
	PackageHash    string    `json:"-"`
	CreatedAt      time.Time `json:"creation_time"`
}

// HasReport reports whether this version ships a detailed-report entrypoint.
func (c *Content) HasReport() bool {
	return c.ReportFilename != nil && *c.ReportFilename != ""
}

type AddContentRequest struct {
	DraftID string `json:"draft_id" validate:"required,uuid"`
}

type DraftUploadResponse struct {
	DraftID  string `json:"draft_id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}
