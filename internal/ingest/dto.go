package ingest

// ResultResponse is the JSON body returned for an upload.
type ResultResponse struct {
	Status         Status   `json:"status"`
	RecordStatus   string   `json:"recordStatus"`
	DocumentID     string   `json:"documentId,omitempty"`
	AnnotationID   string   `json:"annotationId,omitempty"`
	Category       string   `json:"category,omitempty"`
	MissingColumns []string `json:"missingColumns,omitempty"`
	Bucket         string   `json:"bucket"`
	Key            string   `json:"key"`
	SizeBytes      int64    `json:"sizeBytes"`
	ContentType    string   `json:"contentType"`
	PageCount      *int     `json:"pageCount,omitempty"`
	URL            string   `json:"url"`
	States         []State  `json:"states"`
	Message        string   `json:"message,omitempty"`
}

func toResponse(res Result) ResultResponse {
	out := ResultResponse{
		Status:         res.Status,
		RecordStatus:   "ok",
		DocumentID:     res.DocumentID,
		AnnotationID:   res.AnnotationID,
		Category:       string(res.Category),
		MissingColumns: res.MissingColumns,
		Bucket:         res.Bucket,
		Key:            res.Key,
		SizeBytes:      res.Size,
		ContentType:    res.ContentType,
		PageCount:      res.PageCount,
		URL:            res.PublicURL,
		States:         res.States,
	}
	if res.Status == StatusDegraded {
		out.RecordStatus = "degraded"
		out.Message = "file stored; record will be completed by the next consistency sweep"
	}
	return out
}
