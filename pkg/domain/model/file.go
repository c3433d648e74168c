package model

import (
	"sort"
	"time"
)

// PDFMimeType is the only mime type the pipeline ingests
const PDFMimeType = "application/pdf"

// FileMeta describes a file in the remote file store
type FileMeta struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mime_type"`
	Size         int64     `json:"size"`
	ModifiedTime time.Time `json:"modified_time"`
}

// IsPDF reports whether the file is a PDF
func (f *FileMeta) IsPDF() bool {
	return f.MimeType == PDFMimeType
}

// MimeCount is the number of files of one mime type
type MimeCount struct {
	MimeType string `json:"mime_type"`
	Count    int    `json:"count"`
}

// CountByMimeType counts files per mime type, most frequent first
func CountByMimeType(files []*FileMeta) []MimeCount {
	counts := map[string]int{}
	for _, f := range files {
		counts[f.MimeType]++
	}

	result := make([]MimeCount, 0, len(counts))
	for mime, n := range counts {
		result = append(result, MimeCount{MimeType: mime, Count: n})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].MimeType < result[j].MimeType
	})
	return result
}
