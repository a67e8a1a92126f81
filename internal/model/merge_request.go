package model

import (
	"time"

	"github.com/google/uuid"
)

// MergeRequest states
const (
	MergeRequestOpened = "OPENED"
	MergeRequestMerged = "MERGED"
	MergeRequestClosed = "CLOSED"
)

// MergeRequest is the unit of review the approval engine evaluates.
type MergeRequest struct {
	ID              uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Title           string     `gorm:"type:varchar(255);not null" json:"title"`
	TargetProjectID uuid.UUID  `gorm:"type:uuid;not null;index" json:"target_project_id"`
	TargetProject   *Project   `gorm:"foreignKey:TargetProjectID" json:"target_project,omitempty"`
	SourceProjectID uuid.UUID  `gorm:"type:uuid;not null" json:"source_project_id"`
	AuthorID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"author_id"`
	Author          *User      `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	SourceBranch    string     `gorm:"type:varchar(255);not null" json:"source_branch"`
	TargetBranch    string     `gorm:"type:varchar(255);not null" json:"target_branch"`
	State           string     `gorm:"type:varchar(20);not null;default:'OPENED';index" json:"state"`
	MergedAt        *time.Time `json:"merged_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (m *MergeRequest) Merged() bool {
	return m.State == MergeRequestMerged
}

// Approval records one user approving one merge request. At most one row per
// (merge request, user); eligibility is re-checked at evaluation time, the row
// itself is never rewritten when exclusion policy changes.
type Approval struct {
	ID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	MergeRequestID uuid.UUID `gorm:"type:uuid;not null;index:idx_approvals_mr_user,unique" json:"merge_request_id"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;index:idx_approvals_mr_user,unique" json:"user_id"`
	User           *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

// MergeRequestCommit tracks who committed to a merge request. The committer
// set drives the committer self-approval exclusion; merge commits and signed
// author commits can be filtered in or out by the caller.
type MergeRequestCommit struct {
	ID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	MergeRequestID uuid.UUID `gorm:"type:uuid;not null;index" json:"merge_request_id"`
	CommitterID    uuid.UUID `gorm:"type:uuid;not null" json:"committer_id"`
	SHA            string    `gorm:"type:varchar(64);not null" json:"sha"`
	MergeCommit    bool      `gorm:"default:false" json:"merge_commit"`
	Signed         bool      `gorm:"default:false" json:"signed"`
	CreatedAt      time.Time `json:"created_at"`
}
