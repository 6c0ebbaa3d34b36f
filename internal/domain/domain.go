package domain

// Application statuses.
const (
	StatusDraft     = "draft"
	StatusInReview  = "in_review"
	StatusReady     = "ready"
	StatusSubmitted = "submitted"
)

// Attachment statuses.
const (
	AttachmentPending  = "pending"
	AttachmentUploaded = "uploaded"
	AttachmentRejected = "rejected"
)

// ValidApplicationStatus reports whether s is a known application status.
func ValidApplicationStatus(s string) bool {
	switch s {
	case StatusDraft, StatusInReview, StatusReady, StatusSubmitted:
		return true
	}
	return false
}

// ValidAttachmentStatus reports whether s is a known attachment status.
func ValidAttachmentStatus(s string) bool {
	switch s {
	case AttachmentPending, AttachmentUploaded, AttachmentRejected:
		return true
	}
	return false
}

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	CreatedAt string `json:"createdAt" format:"date-time"`
}

type Application struct {
	ID                    string `json:"id"`
	Title                 string `json:"title"`
	Mechanism             string `json:"mechanism"`
	Status                string `json:"status" enum:"draft,in_review,ready,submitted"`
	OwnerID               string `json:"ownerId"`
	PrincipalInvestigator string `json:"principalInvestigator,omitempty"`
	Institution           string `json:"institution,omitempty"`
	CreatedAt             string `json:"createdAt" format:"date-time"`
	UpdatedAt             string `json:"updatedAt" format:"date-time"`
}

type Section struct {
	ID               string   `json:"id"`
	ApplicationID    string   `json:"applicationId"`
	Type             string   `json:"type"`
	Title            string   `json:"title"`
	Content          string   `json:"content"`
	PageLimit        int      `json:"pageLimit"`
	PageCount        int      `json:"pageCount"`
	RequiredHeadings []string `json:"requiredHeadings,omitempty"`
	IsValid          bool     `json:"isValid"`
	IsComplete       bool     `json:"isComplete"`
	Order            int      `json:"order"`
	Review           *Review  `json:"review,omitempty"`
	CreatedAt        string   `json:"createdAt" format:"date-time"`
	UpdatedAt        string   `json:"updatedAt" format:"date-time"`
}

// Review is the last advisory LLM assessment stored on a section.
type Review struct {
	Kind       string `json:"kind" enum:"score,risk,feasibility"`
	Score      int    `json:"score"`
	Min        int    `json:"min"`
	Max        int    `json:"max"`
	Rationale  string `json:"rationale"`
	ReviewedAt string `json:"reviewedAt" format:"date-time"`
}

type Attachment struct {
	ID            string  `json:"id"`
	ApplicationID string  `json:"applicationId"`
	Name          string  `json:"name"`
	FileURL       *string `json:"fileUrl,omitempty"`
	Required      bool    `json:"required"`
	Status        string  `json:"status" enum:"pending,uploaded,rejected"`
	Order         int     `json:"order"`
	CreatedAt     string  `json:"createdAt" format:"date-time"`
	UpdatedAt     string  `json:"updatedAt" format:"date-time"`
}

// ApplicationDetail is an application with its owned collections.
type ApplicationDetail struct {
	Application
	Sections    []Section    `json:"sections"`
	Attachments []Attachment `json:"attachments"`
}

// ValidationResult is a persisted snapshot of one compliance run.
type ValidationResult struct {
	ID            string   `json:"id"`
	ApplicationID string   `json:"applicationId"`
	IsValid       bool     `json:"isValid"`
	CanExport     bool     `json:"canExport"`
	Errors        []string `json:"errors"`
	Warnings      []string `json:"warnings"`
	CreatedBy     string   `json:"createdBy"`
	CreatedAt     string   `json:"createdAt" format:"date-time"`
}

type Event struct {
	ID            int64  `json:"id"`
	TS            string `json:"ts" format:"date-time"`
	Type          string `json:"type"`
	ApplicationID string `json:"applicationId,omitempty"`
	EntityKind    string `json:"entityKind"`
	EntityID      string `json:"entityId,omitempty"`
	ActorID       string `json:"actorId"`
	Payload       string `json:"payload"`
}

// GrantPackage is the export-time projection of an application.
type GrantPackage struct {
	Title                 string         `json:"title"`
	PrincipalInvestigator string         `json:"principalInvestigator,omitempty"`
	Institution           string         `json:"institution,omitempty"`
	FundingAgency         string         `json:"fundingAgency,omitempty"`
	Mechanism             string         `json:"mechanism,omitempty"`
	Sections              []GrantSection `json:"sections"`
}

type GrantSection struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Order     int    `json:"order"`
	WordCount int    `json:"wordCount,omitempty"`
}
