package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MetricsResponse aggregates approval activity over a time range
type MetricsResponse struct {
	TotalMergeRequests  int               `json:"total_merge_requests"`
	MergedMergeRequests int               `json:"merged_merge_requests"`
	OpenMergeRequests   int               `json:"open_merge_requests"`
	TotalApprovals      int               `json:"total_approvals"`
	MergeRate           decimal.Decimal   `json:"merge_rate"`
	AvgApprovalsPerMR   decimal.Decimal   `json:"avg_approvals_per_merge_request"`
	AvgHoursToMerge     decimal.Decimal   `json:"avg_hours_to_merge"`
	TopApprovers        []ApproverRanking `json:"top_approvers"`
	TimeRangeStartDate  time.Time         `json:"time_range_start_date"`
	TimeRangeEndDate    time.Time         `json:"time_range_end_date"`
}

// ApproverRanking represents a user ranked by recorded approvals
type ApproverRanking struct {
	UserID        string `json:"user_id"`
	Username      string `json:"username"`
	ApprovalCount int    `json:"approval_count"`
}
