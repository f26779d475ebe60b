package records

import "time"

// AnnotationResponse is the outward-facing representation of a solution.
type AnnotationResponse struct {
	AnnotationID  string    `json:"annotationId"`
	DocumentID    string    `json:"documentId"`
	QuestionLabel string    `json:"questionLabel"`
	Content       string    `json:"content"`
	ContentType   string    `json:"contentType,omitempty"`
	SizeBytes     *int64    `json:"sizeBytes"`
	Status        Status    `json:"status"`
	URL           string    `json:"url"`
	UploadedAt    time.Time `json:"uploadedAt"`
}

// DocumentResponse is the outward-facing representation of a paper.
type DocumentResponse struct {
	DocumentID  string               `json:"documentId"`
	Title       string               `json:"title"`
	Category    string               `json:"category"`
	Status      Status               `json:"status"`
	ContentType string               `json:"contentType,omitempty"`
	SizeBytes   *int64               `json:"sizeBytes"`
	PageCount   *int                 `json:"pageCount,omitempty"`
	URL         string               `json:"url"`
	UploadedAt  time.Time            `json:"uploadedAt"`
	Solutions   []AnnotationResponse `json:"solutions"`
}

// GroupResponse is one category section of the browse listing.
type GroupResponse struct {
	Category  string             `json:"category"`
	Count     int                `json:"count"`
	Documents []DocumentResponse `json:"documents"`
}

// BrowseResponse is the body of GET /papers.
type BrowseResponse struct {
	Total  int             `json:"total"`
	Groups []GroupResponse `json:"groups"`
}

// DeleteResponse is the body of DELETE /papers/:id.
type DeleteResponse struct {
	DocumentID          string   `json:"documentId"`
	Deleted             bool     `json:"deleted"`
	DeletedSolutions    []string `json:"deletedSolutionIds"`
	FailedAnnotationIDs []string `json:"failedAnnotationIds,omitempty"`
	RetainedBlobs       []string `json:"retainedBlobs,omitempty"`
}

func toAnnotationResponse(v AnnotationView) AnnotationResponse {
	return AnnotationResponse{
		AnnotationID:  v.ID,
		DocumentID:    v.DocumentID,
		QuestionLabel: v.QuestionLabel,
		Content:       v.Content,
		ContentType:   v.ContentType,
		SizeBytes:     v.SizeBytes,
		Status:        v.StatusOrDefault(),
		URL:           v.PublicURL,
		UploadedAt:    v.CreatedAt,
	}
}

func toDocumentResponse(v DocumentView) DocumentResponse {
	solutions := make([]AnnotationResponse, 0, len(v.Annotations))
	for _, a := range v.Annotations {
		solutions = append(solutions, toAnnotationResponse(a))
	}
	return DocumentResponse{
		DocumentID:  v.ID,
		Title:       v.Title,
		Category:    string(v.CategoryOrDefault()),
		Status:      v.StatusOrDefault(),
		ContentType: v.ContentType,
		SizeBytes:   v.SizeBytes,
		PageCount:   v.PageCount,
		URL:         v.PublicURL,
		UploadedAt:  v.CreatedAt,
		Solutions:   solutions,
	}
}

func toBrowseResponse(groups []CategoryGroup) BrowseResponse {
	resp := BrowseResponse{Groups: make([]GroupResponse, 0, len(groups))}
	for _, g := range groups {
		docs := make([]DocumentResponse, 0, len(g.Documents))
		for _, d := range g.Documents {
			docs = append(docs, toDocumentResponse(d))
		}
		resp.Total += len(docs)
		resp.Groups = append(resp.Groups, GroupResponse{Category: string(g.Category), Count: len(docs), Documents: docs})
	}
	return resp
}
