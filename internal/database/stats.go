package database

import (
	"context"
	"sort"
	"time"

	"defect-tracker/internal/models"

	"github.com/maruel/natural"
	"github.com/pkg/errors"
)

// BucketCounts are defect counts per reporting bucket.
type BucketCounts struct {
	Total      int64 `json:"total" gorm:"column:total"`
	Open       int64 `json:"open" gorm:"column:open_count"`
	InProgress int64 `json:"in_progress" gorm:"column:in_progress_count"`
	Pending    int64 `json:"pending" gorm:"column:pending_count"`
	Rejected   int64 `json:"rejected" gorm:"column:rejected_count"`
	Closed     int64 `json:"closed" gorm:"column:closed_count"`
	Overdue    int64 `json:"overdue" gorm:"-"`
}

func (b *BucketCounts) add(o BucketCounts) {
	b.Total += o.Total
	b.Open += o.Open
	b.InProgress += o.InProgress
	b.Pending += o.Pending
	b.Rejected += o.Rejected
	b.Closed += o.Closed
	b.Overdue += o.Overdue
}

type ContractorStat struct {
	ContractorID     uint   `json:"contractor_id" gorm:"column:contractor_id"`
	CompanyName      string `json:"company_name" gorm:"column:company_name"`
	ContractorStatus string `json:"contractor_status" gorm:"column:contractor_status"`
	BucketCounts
}

type ContractorStatsReport struct {
	Rows        []ContractorStat `json:"rows"`
	Totals      BucketCounts     `json:"totals"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// closedStatuses are never overdue.
var closedStatuses = []models.DefectStatus{models.DefectResolved, models.DefectClosed}

// ContractorStats reads the per-contractor view and adds overdue counts as of now.
// Totals are the sums of the rows.
func ContractorStats(ctx context.Context, now time.Time) (*ContractorStatsReport, error) {
	var rows []ContractorStat
	if err := DB.WithContext(ctx).Table("contractor_defect_stats").Scan(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "read contractor_defect_stats")
	}

	var overdue []struct {
		ContractorID uint
		N            int64
	}
	err := DB.WithContext(ctx).Model(&models.Defect{}).
		Select("contractor_id, COUNT(*) AS n").
		Where("contractor_id IS NOT NULL").
		Where("due_date IS NOT NULL AND due_date < ?", now).
		Where("status NOT IN ?", closedStatuses).
		Group("contractor_id").
		Scan(&overdue).Error
	if err != nil {
		return nil, errors.Wrap(err, "count overdue defects")
	}

	byContractor := make(map[uint]int64, len(overdue))
	for _, o := range overdue {
		byContractor[o.ContractorID] = o.N
	}

	report := &ContractorStatsReport{GeneratedAt: now}
	for i := range rows {
		rows[i].Overdue = byContractor[rows[i].ContractorID]
		report.Totals.add(rows[i].BucketCounts)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return natural.Less(rows[i].CompanyName, rows[j].CompanyName)
	})
	report.Rows = rows

	return report, nil
}

// StatusCounts returns live defect counts per stored status, optionally for one contractor.
func StatusCounts(ctx context.Context, contractorID *uint) (map[models.DefectStatus]int64, error) {
	var rows []struct {
		Status models.DefectStatus
		N      int64
	}

	q := DB.WithContext(ctx).Model(&models.Defect{}).Select("status, COUNT(*) AS n")
	if contractorID != nil {
		q = q.Where("contractor_id = ?", *contractorID)
	}
	if err := q.Group("status").Scan(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "count defects by status")
	}

	counts := make(map[models.DefectStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status.Normalize()] += r.N
	}
	return counts, nil
}

// OverdueCount counts live, not closed defects past their due date.
func OverdueCount(ctx context.Context, now time.Time, contractorID *uint) (int64, error) {
	q := DB.WithContext(ctx).Model(&models.Defect{}).
		Where("due_date IS NOT NULL AND due_date < ?", now).
		Where("status NOT IN ?", closedStatuses)
	if contractorID != nil {
		q = q.Where("contractor_id = ?", *contractorID)
	}

	var n int64
	err := q.Count(&n).Error
	return n, err
}
