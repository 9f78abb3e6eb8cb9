package models

import "time"

// Data source file types accepted on upload.
const (
	FiletypeVCF = "vcf"
	FiletypeBED = "bed"
)

// DataSourceFiletypes is the whitelist of accepted file types.
var DataSourceFiletypes = []string{FiletypeVCF, FiletypeBED}

// DataSource is an uploaded (or server-side referenced) file holding raw
// variant or coverage data. The blob itself lives in the file store under
// Filename; the record only carries metadata.
type DataSource struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	Filetype  string    `json:"filetype"`
	Filename  string    `json:"filename"`
	Gzipped   bool      `json:"gzipped"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
