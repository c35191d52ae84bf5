package handler

// submitIssueRequest is the POST /issues body.
type submitIssueRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=5000"`
	Category    string `json:"category" validate:"max=100"`
	Urgency     int    `json:"urgency" validate:"required,min=1,max=5"`
	Region      string `json:"region" validate:"required,max=50"`
}

// resolutionRequest is the POST /issues/{id}/resolution body.
type resolutionRequest struct {
	ResolutionNotes string `json:"resolution_notes" validate:"required,max=5000"`
}

// ratingRequest is the POST /issues/{id}/rating body.
type ratingRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=2000"`
}

// availabilityRequest is the PUT /experts/availability body.
type availabilityRequest struct {
	Available *bool `json:"available" validate:"required"`
}

// verifyExpertRequest is the PUT /experts/{id}/verified body.
type verifyExpertRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}
