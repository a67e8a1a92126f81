package service

import (
	"context"
	"time"

	"backend/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type StatisticsService interface {
	GetStatistics(ctx context.Context, projectID string, startDate, endDate time.Time) (model.MetricsResponse, error)
}

type statisticsService struct {
	db *gorm.DB
}

func NewStatisticsService(db *gorm.DB) StatisticsService {
	return &statisticsService{db: db}
}

// GetStatistics aggregates approval activity for one project into time brackets
func (s *statisticsService) GetStatistics(ctx context.Context, projectID string, startDate, endDate time.Time) (model.MetricsResponse, error) {
	var response model.MetricsResponse
	response.TimeRangeStartDate = startDate
	response.TimeRangeEndDate = endDate

	var counts struct {
		Total  int
		Merged int
		Open   int
	}
	s.db.WithContext(ctx).Table("merge_requests").
		Select("COUNT(*) as total, COUNT(*) FILTER (WHERE state = 'MERGED') as merged, COUNT(*) FILTER (WHERE state = 'OPENED') as open").
		Where("target_project_id = ? AND created_at >= ? AND created_at <= ?", projectID, startDate, endDate).
		Scan(&counts)
	response.TotalMergeRequests = counts.Total
	response.MergedMergeRequests = counts.Merged
	response.OpenMergeRequests = counts.Open

	var approvalCount struct {
		Count int
	}
	s.db.WithContext(ctx).Table("approvals").
		Select("COUNT(*) as count").
		Joins("JOIN merge_requests ON merge_requests.id = approvals.merge_request_id").
		Where("merge_requests.target_project_id = ? AND approvals.created_at >= ? AND approvals.created_at <= ?", projectID, startDate, endDate).
		Scan(&approvalCount)
	response.TotalApprovals = approvalCount.Count

	// Rates computed with fixed-point arithmetic so the API never emits
	// float noise like 33.333333333333336.
	if counts.Total > 0 {
		response.MergeRate = decimal.NewFromInt(int64(counts.Merged)).
			Div(decimal.NewFromInt(int64(counts.Total))).
			Mul(decimal.NewFromInt(100)).
			Round(2)
		response.AvgApprovalsPerMR = decimal.NewFromInt(int64(approvalCount.Count)).
			Div(decimal.NewFromInt(int64(counts.Total))).
			Round(2)
	}

	var mergeHours struct {
		Hours float64
	}
	s.db.WithContext(ctx).Table("merge_requests").
		Select("COALESCE(AVG(EXTRACT(EPOCH FROM (merged_at - created_at)) / 3600), 0) as hours").
		Where("target_project_id = ? AND state = 'MERGED' AND merged_at IS NOT NULL AND created_at >= ? AND created_at <= ?", projectID, startDate, endDate).
		Scan(&mergeHours)
	response.AvgHoursToMerge = decimal.NewFromFloat(mergeHours.Hours).Round(2)

	var topApprovers []model.ApproverRanking
	s.db.WithContext(ctx).Table("approvals").
		Select("users.id as user_id, users.username as username, COUNT(*) as approval_count").
		Joins("JOIN users ON users.id = approvals.user_id").
		Joins("JOIN merge_requests ON merge_requests.id = approvals.merge_request_id").
		Where("merge_requests.target_project_id = ? AND approvals.created_at >= ? AND approvals.created_at <= ?", projectID, startDate, endDate).
		Group("users.id, users.username").
		Order("approval_count DESC").
		Limit(5).
		Scan(&topApprovers)
	response.TopApprovers = topApprovers

	return response, nil
}
