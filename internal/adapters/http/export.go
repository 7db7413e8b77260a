package httpadapter

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
	"github.com/kirillkom/paperless-ai-queue/internal/core/ports"
)

const (
	queueSheetName  = "Queue"
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	exportPageLimit = 100
)

var queueSheetHeader = []any{
	"ID", "Remote Document", "Local Document", "Bot", "Status", "Priority",
	"Attempts", "Max Attempts", "Scheduled For", "Started At", "Completed At",
	"Last Error", "Created At",
}

// collectQueueItems pages through the whole queue of an instance.
func collectQueueItems(ctx context.Context, queue ports.QueueService, instanceID string, status domain.QueueStatus) ([]domain.QueueItem, error) {
	var items []domain.QueueItem
	for page := 1; ; page++ {
		result, err := queue.List(ctx, domain.QueueFilter{
			InstanceID: instanceID,
			Status:     status,
			Page:       page,
			Limit:      exportPageLimit,
		})
		if err != nil {
			return nil, err
		}
		items = append(items, result.Items...)
		if page >= result.TotalPages() || len(result.Items) == 0 {
			return items, nil
		}
	}
}

func writeQueueWorkbook(w io.Writer, items []domain.QueueItem) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", queueSheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(queueSheetName, "A1", &queueSheetHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, item := range items {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		row := []any{
			item.ID,
			item.RemoteDocumentID,
			stringOrEmpty(item.LocalDocumentID),
			item.AIBotID,
			string(item.Status),
			item.Priority,
			item.Attempts,
			item.MaxAttempts,
			formatTime(&item.ScheduledFor),
			formatTime(item.StartedAt),
			formatTime(item.CompletedAt),
			stringOrEmpty(item.LastError),
			formatTime(&item.CreatedAt),
		}
		if err := f.SetSheetRow(queueSheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func stringOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
