package models

import "time"

// Document is one JSON document in an index. Version increments on
// every successful write; a bulk mutation that reads version N and
// finds N+1 at write time has hit a version conflict.
type Document struct {
	ID        int64                  `json:"id"`
	Index     string                 `json:"index"`
	DocID     string                 `json:"doc_id"`
	Source    map[string]interface{} `json:"source"`
	Version   int64                  `json:"version"`
	UpdatedAt time.Time              `json:"updated_at"`
}
